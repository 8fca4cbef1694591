// Package brainmap downloads section data set metadata and section images
// from the brain-map.org RMA API.
package brainmap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"sectionvolume/internal/logging"
)

const (
	queryPath    = "/api/v2/data/query.json"
	downloadPath = "/api/v2/section_image_download/"
)

// Client talks to one API host.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// Workers bounds concurrent image downloads.
	Workers int
}

// NewClient returns a client for baseURL using http.DefaultClient.
func NewClient(baseURL string, workers int) *Client {
	if workers < 1 {
		workers = 1
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
		Workers:    workers,
	}
}

// SectionImage is one row of a SectionImage query.
type SectionImage struct {
	ID            int64 `json:"id"`
	SectionNumber int   `json:"section_number"`
}

type response struct {
	Success bool            `json:"success"`
	Msg     json.RawMessage `json:"msg"`
}

// MetadataCriteria is the RMA query for a data set with everything the
// metadata parser reads.
func MetadataCriteria(datasetID int64, productID int) string {
	return fmt.Sprintf("model::SectionDataSet,rma::criteria,[id$eq%d],products[id$eq%d],"+
		"rma::include,genes,plane_of_section,treatments,specimen(donor(age,organism)),"+
		"alignment3d,section_images(alignment2d),"+
		"rma::options[order$eq'sub_images.section_number$asc']", datasetID, productID)
}

// ImagesCriteria is the RMA query listing the section images of a data set.
func ImagesCriteria(datasetID int64) string {
	return fmt.Sprintf("model::SectionImage,rma::criteria,[data_set_id$eq%d],rma::options[num_rows$eqall]", datasetID)
}

// query runs an RMA query and returns the msg payload.
func (c *Client) query(ctx context.Context, criteria string) (json.RawMessage, error) {
	u := c.BaseURL + queryPath + "?" + url.Values{"criteria": {criteria}}.Encode()
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp response
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding query response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("query failed: %s", strings.TrimSpace(string(resp.Msg)))
	}
	return resp.Msg, nil
}

func (c *Client) get(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", u, resp.Status)
	}
	return resp.Body, nil
}

// DownloadMetadata fetches the data set record and writes its msg array as
// indented JSON to path.
func (c *Client) DownloadMetadata(ctx context.Context, datasetID int64, productID int, path string) error {
	msg, err := c.query(ctx, MetadataCriteria(datasetID, productID))
	if err != nil {
		return fmt.Errorf("metadata for data set %d: %w", datasetID, err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, msg, "", "    "); err != nil {
		return fmt.Errorf("formatting metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	logging.Infof("Wrote metadata for data set %d to %s", datasetID, path)
	return nil
}

// ListImages returns the section images of a data set.
func (c *Client) ListImages(ctx context.Context, datasetID int64) ([]SectionImage, error) {
	msg, err := c.query(ctx, ImagesCriteria(datasetID))
	if err != nil {
		return nil, fmt.Errorf("images of data set %d: %w", datasetID, err)
	}
	var images []SectionImage
	if err := json.Unmarshal(msg, &images); err != nil {
		return nil, fmt.Errorf("decoding image list: %w", err)
	}
	return images, nil
}

// DownloadImages fetches every section image of a data set, downsampled by
// 2^downsample, into dir as <%04d section_number>_<dataset>.jpg. Downloads
// run on up to Workers goroutines; the first failure cancels the rest.
func (c *Client) DownloadImages(ctx context.Context, datasetID int64, downsample int, dir string) ([]string, error) {
	images, err := c.ListImages(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	paths := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Workers)
	for i, img := range images {
		i, img := i, img
		paths[i] = filepath.Join(dir, fmt.Sprintf("%04d_%d.jpg", img.SectionNumber, datasetID))
		g.Go(func() error {
			u := fmt.Sprintf("%s%s%d?downsample=%d", c.BaseURL, downloadPath, img.ID, downsample)
			if err := c.download(gctx, u, paths[i]); err != nil {
				return fmt.Errorf("section %d (image %d): %w", img.SectionNumber, img.ID, err)
			}
			logging.Debugf("Downloaded %s", paths[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logging.Infof("Downloaded %d images for data set %d", len(images), datasetID)
	return paths, nil
}

// download writes the body of u to path through a temporary file so a
// failed transfer leaves no partial image behind.
func (c *Client) download(ctx context.Context, u, path string) error {
	body, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
