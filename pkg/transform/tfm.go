package transform

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const tfmHeader = "#Insight Transform File V1.0"

// ReadTFMFile reads a single affine transform from an ITK text transform file.
func ReadTFMFile(path string) (*Affine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a, err := ReadTFM(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// ReadTFM parses an ITK text transform holding exactly one affine
// (AffineTransform or MatrixOffsetTransformBase, double or float, any
// dimension). A leading CompositeTransform entry with no parameters is
// ignored.
func ReadTFM(r io.Reader) (*Affine, error) {
	type entry struct {
		kind       string
		params     []float64
		fixed      []float64
		haveParams bool
		haveFixed  bool
	}
	var entries []*entry
	var cur *entry

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key: value", lineNo)
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Transform":
			cur = &entry{kind: value}
			entries = append(entries, cur)
		case "Parameters":
			if cur == nil {
				return nil, fmt.Errorf("line %d: Parameters before Transform", lineNo)
			}
			vals, err := parseFloats(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cur.params, cur.haveParams = vals, true
		case "FixedParameters":
			if cur == nil {
				return nil, fmt.Errorf("line %d: FixedParameters before Transform", lineNo)
			}
			vals, err := parseFloats(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cur.fixed, cur.haveFixed = vals, true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var found []*entry
	for _, e := range entries {
		if strings.HasPrefix(e.kind, "CompositeTransform") {
			continue
		}
		found = append(found, e)
	}
	if len(found) != 1 {
		return nil, fmt.Errorf("expected one affine transform, found %d", len(found))
	}
	e := found[0]
	dim, err := affineDimension(e.kind)
	if err != nil {
		return nil, err
	}
	if !e.haveParams {
		return nil, fmt.Errorf("transform %s has no Parameters", e.kind)
	}
	var center []float64
	if e.haveFixed && len(e.fixed) > 0 {
		center = e.fixed
	}
	return NewAffineWithCenter(dim, e.params, center)
}

// WriteTFM writes a as an ITK AffineTransform_double_N_N text transform.
func WriteTFM(w io.Writer, a *Affine) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, tfmHeader)
	fmt.Fprintln(bw, "#Transform 0")
	fmt.Fprintf(bw, "Transform: AffineTransform_double_%d_%d\n", a.dim, a.dim)
	fmt.Fprintf(bw, "Parameters: %s\n", formatFloats(a.Parameters()))
	fmt.Fprintf(bw, "FixedParameters: %s\n", formatFloats(a.center))
	return bw.Flush()
}

// WriteTFMFile writes a to path.
func WriteTFMFile(path string, a *Affine) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTFM(f, a); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func affineDimension(kind string) (int, error) {
	var base string
	switch {
	case strings.HasPrefix(kind, "AffineTransform_"):
		base = strings.TrimPrefix(kind, "AffineTransform_")
	case strings.HasPrefix(kind, "MatrixOffsetTransformBase_"):
		base = strings.TrimPrefix(kind, "MatrixOffsetTransformBase_")
	default:
		return 0, fmt.Errorf("unsupported transform type %q", kind)
	}
	// base is e.g. "double_3_3"
	parts := strings.Split(base, "_")
	if len(parts) != 3 || parts[1] != parts[2] {
		return 0, fmt.Errorf("unsupported transform type %q", kind)
	}
	dim, err := strconv.Atoi(parts[1])
	if err != nil || dim < 1 {
		return 0, fmt.Errorf("unsupported transform type %q", kind)
	}
	return dim, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", f)
		}
		vals[i] = v
	}
	return vals, nil
}

func formatFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}
