// Package nifti reads and writes single-file NIfTI-1 images (.nii and
// gzip compressed .nii.gz).
//
// Geometry follows the ITK convention: images carry LPS physical
// coordinates, the file stores RAS, and both the qform and the sform are
// written from the same spacing, origin and direction.
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"sectionvolume/pkg/imaging"
)

const (
	headerSize = 348
	voxOffset  = 352

	unitsMeter  = 1
	unitsMM     = 2
	unitsMicron = 3

	codeScanner = 1
)

// NIfTI datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
)

type header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

var pixelTypes = map[int16]imaging.PixelType{
	dtUint8:   imaging.Uint8,
	dtInt8:    imaging.Int8,
	dtUint16:  imaging.Uint16,
	dtInt16:   imaging.Int16,
	dtUint32:  imaging.Uint32,
	dtInt32:   imaging.Int32,
	dtFloat32: imaging.Float32,
	dtFloat64: imaging.Float64,
}

func datatypeOf(t imaging.PixelType) (code, bitpix int16) {
	switch t {
	case imaging.Uint8:
		return dtUint8, 8
	case imaging.Int8:
		return dtInt8, 8
	case imaging.Uint16:
		return dtUint16, 16
	case imaging.Int16:
		return dtInt16, 16
	case imaging.Uint32:
		return dtUint32, 32
	case imaging.Int32:
		return dtInt32, 32
	case imaging.Float64:
		return dtFloat64, 64
	}
	return dtFloat32, 32
}

// ReadFile reads a .nii or .nii.gz file. Compression is detected from the
// content, not the name.
func ReadFile(path string) (*imaging.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	im, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return im, nil
}

// Read decodes a NIfTI-1 single-file image, gunzipping if needed.
func Read(r io.Reader) (*imaging.Image, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("reading nifti: %w", err)
	}
	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("reading gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, fmt.Errorf("reading nifti header: %w", err)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if int32(binary.LittleEndian.Uint32(raw)) != headerSize {
		order = binary.BigEndian
		if int32(binary.BigEndian.Uint32(raw)) != headerSize {
			return nil, fmt.Errorf("not a nifti-1 file (sizeof_hdr mismatch)")
		}
	}
	var h header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, fmt.Errorf("decoding nifti header: %w", err)
	}
	if m := string(h.Magic[:3]); m != "n+1" {
		return nil, fmt.Errorf("unsupported nifti magic %q (only single-file n+1 is supported)", m)
	}

	size, err := imageSize(h.Dim)
	if err != nil {
		return nil, err
	}
	ptype, ok := pixelTypes[h.Datatype]
	if !ok {
		return nil, fmt.Errorf("unsupported nifti datatype %d", h.Datatype)
	}
	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	scaled := slope != 0 && !math.IsNaN(slope) && (slope != 1 || inter != 0)
	outType := ptype
	if scaled {
		outType = imaging.Float32
	}

	im, err := imaging.New(outType, size...)
	if err != nil {
		return nil, err
	}
	if err := applyGeometry(im, &h); err != nil {
		return nil, err
	}

	if skip := int64(h.VoxOffset) - headerSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, src, skip); err != nil {
			return nil, fmt.Errorf("skipping nifti extensions: %w", err)
		}
	}
	bytesPer := int(h.Bitpix) / 8
	if _, want := datatypeOf(ptype); int(want)/8 != bytesPer {
		return nil, fmt.Errorf("bitpix %d does not match datatype %d", h.Bitpix, h.Datatype)
	}
	buf := make([]byte, im.Len()*bytesPer)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, fmt.Errorf("reading nifti voxels: %w", err)
	}
	decodeVoxels(im.Data(), buf, ptype, order)
	if scaled {
		for i, v := range im.Data() {
			im.Data()[i] = float32(float64(v)*slope + inter)
		}
	}
	return im, nil
}

func imageSize(dim [8]int16) ([]int, error) {
	n := int(dim[0])
	if n < 2 || n > 7 {
		return nil, fmt.Errorf("unsupported nifti dimension count %d", n)
	}
	// trailing singleton dimensions are dropped, 3 at most are kept
	for n > 3 && dim[n] == 1 {
		n--
	}
	if n > 3 {
		return nil, fmt.Errorf("only 2D and 3D nifti images are supported, got %dD", n)
	}
	size := make([]int, n)
	for i := range size {
		size[i] = int(dim[i+1])
	}
	return size, nil
}

// applyGeometry converts the header's RAS frame to LPS spacing, origin and
// direction. sform is preferred over qform; with neither only pixdim is used.
func applyGeometry(im *imaging.Image, h *header) error {
	scale := unitScale(h.XyztUnits)
	var m [3][3]float64
	var offset [3]float64
	var spacing [3]float64

	switch {
	case h.SformCode > 0:
		rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				m[i][j] = float64(rows[i][j]) * scale
			}
			offset[i] = float64(rows[i][3]) * scale
		}
		for j := 0; j < 3; j++ {
			spacing[j] = math.Sqrt(m[0][j]*m[0][j] + m[1][j]*m[1][j] + m[2][j]*m[2][j])
			if spacing[j] == 0 {
				return fmt.Errorf("degenerate sform column %d", j)
			}
			for i := 0; i < 3; i++ {
				m[i][j] /= spacing[j]
			}
		}
	case h.QformCode > 0:
		m = quaternToMatrix(float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD), float64(h.Pixdim[0]))
		offset = [3]float64{float64(h.QoffsetX) * scale, float64(h.QoffsetY) * scale, float64(h.QoffsetZ) * scale}
		for j := 0; j < 3; j++ {
			spacing[j] = math.Abs(float64(h.Pixdim[j+1])) * scale
		}
	default:
		m = [3][3]float64{{-1, 0, 0}, {0, -1, 0}, {0, 0, 1}}
		for j := 0; j < 3; j++ {
			spacing[j] = math.Abs(float64(h.Pixdim[j+1])) * scale
		}
	}

	// RAS -> LPS
	for j := 0; j < 3; j++ {
		m[0][j], m[1][j] = -m[0][j], -m[1][j]
	}
	offset[0], offset[1] = -offset[0], -offset[1]

	dim := im.Dimension()
	sp := make([]float64, dim)
	org := make([]float64, dim)
	dir := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		sp[i] = spacing[i]
		if sp[i] == 0 {
			sp[i] = 1
		}
		org[i] = offset[i]
		for j := 0; j < dim; j++ {
			dir[i*dim+j] = m[i][j]
		}
	}
	if err := im.SetSpacing(sp...); err != nil {
		return err
	}
	if err := im.SetOrigin(org...); err != nil {
		return err
	}
	if isIdentity(dir, dim) {
		return nil
	}
	return im.SetDirection(dir)
}

func unitScale(units byte) float64 {
	switch units & 0x07 {
	case unitsMeter:
		return 1000
	case unitsMicron:
		return 0.001
	}
	return 1
}

func isIdentity(d []float64, dim int) bool {
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(d[i*dim+j]-want) > 1e-6 {
				return false
			}
		}
	}
	return true
}

func quaternToMatrix(b, c, d, qfac float64) [3][3]float64 {
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		n := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*n, c*n, d*n
		a = 0
	} else {
		a = math.Sqrt(a)
	}
	if qfac >= 0 {
		qfac = 1
	} else {
		qfac = -1
	}
	return [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), qfac * 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, qfac * 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), qfac * (a*a + d*d - c*c - b*b)},
	}
}

// matrixToQuatern returns the quaternion (b, c, d) and qfac for a proper or
// improper rotation.
func matrixToQuatern(r [3][3]float64) (b, c, d, qfac float64) {
	det := r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
	qfac = 1
	if det < 0 {
		qfac = -1
		for i := 0; i < 3; i++ {
			r[i][2] = -r[i][2]
		}
	}

	var a float64
	if t := r[0][0] + r[1][1] + r[2][2] + 1; t > 0.5 {
		a = 0.5 * math.Sqrt(t)
		b = 0.25 * (r[2][1] - r[1][2]) / a
		c = 0.25 * (r[0][2] - r[2][0]) / a
		d = 0.25 * (r[1][0] - r[0][1]) / a
	} else {
		xd := 1 + r[0][0] - (r[1][1] + r[2][2])
		yd := 1 + r[1][1] - (r[0][0] + r[2][2])
		zd := 1 + r[2][2] - (r[0][0] + r[1][1])
		switch {
		case xd > 1:
			b = 0.5 * math.Sqrt(xd)
			c = 0.25 * (r[0][1] + r[1][0]) / b
			d = 0.25 * (r[0][2] + r[2][0]) / b
			a = 0.25 * (r[2][1] - r[1][2]) / b
		case yd > 1:
			c = 0.5 * math.Sqrt(yd)
			b = 0.25 * (r[0][1] + r[1][0]) / c
			d = 0.25 * (r[1][2] + r[2][1]) / c
			a = 0.25 * (r[0][2] - r[2][0]) / c
		default:
			d = 0.5 * math.Sqrt(zd)
			b = 0.25 * (r[0][2] + r[2][0]) / d
			c = 0.25 * (r[1][2] + r[2][1]) / d
			a = 0.25 * (r[1][0] - r[0][1]) / d
		}
		if a < 0 {
			b, c, d = -b, -c, -d
		}
	}
	return b, c, d, qfac
}

// WriteFile writes im to path, gzip compressed when path ends in ".gz".
func WriteFile(path string, im *imaging.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".gz") {
		zw, err := gzip.NewWriterLevel(f, gzip.DefaultCompression)
		if err != nil {
			f.Close()
			return err
		}
		if err := Write(zw, im); err != nil {
			zw.Close()
			f.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			f.Close()
			return err
		}
	} else if err := Write(f, im); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write encodes im as an uncompressed little-endian NIfTI-1 stream.
func Write(w io.Writer, im *imaging.Image) error {
	h := newHeader(im)
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("writing nifti header: %w", err)
	}
	// empty extension block
	if _, err := bw.Write(make([]byte, voxOffset-headerSize)); err != nil {
		return err
	}
	buf := make([]byte, im.Len()*int(h.Bitpix)/8)
	encodeVoxels(buf, im.Data(), im.PixelType())
	if _, err := bw.Write(buf); err != nil {
		return fmt.Errorf("writing nifti voxels: %w", err)
	}
	return bw.Flush()
}

func newHeader(im *imaging.Image) header {
	var h header
	h.SizeofHdr = headerSize
	h.Regular = 'r'
	copy(h.Magic[:], "n+1\x00")
	h.VoxOffset = voxOffset
	h.SclSlope = 1
	h.XyztUnits = unitsMM
	h.QformCode = codeScanner
	h.SformCode = codeScanner
	h.Datatype, h.Bitpix = datatypeOf(im.PixelType())

	dim := im.Dimension()
	size, spacing, origin, dir := im.Size(), im.Spacing(), im.Origin(), im.Direction()
	h.Dim[0] = int16(dim)
	for i := 0; i < 7; i++ {
		h.Dim[i+1] = 1
		h.Pixdim[i+1] = 1
	}
	for i := 0; i < dim; i++ {
		h.Dim[i+1] = int16(size[i])
		h.Pixdim[i+1] = float32(spacing[i])
	}

	// Embed the (possibly 2D) LPS geometry in 3D and flip to RAS.
	var r [3][3]float64
	var off [3]float64
	for i := 0; i < 3; i++ {
		r[i][i] = 1
	}
	for i := 0; i < dim; i++ {
		off[i] = origin[i]
		for j := 0; j < dim; j++ {
			r[i][j] = dir[i*dim+j]
		}
	}
	for j := 0; j < 3; j++ {
		r[0][j], r[1][j] = -r[0][j], -r[1][j]
	}
	off[0], off[1] = -off[0], -off[1]

	b, c, d, qfac := matrixToQuatern(r)
	h.QuaternB, h.QuaternC, h.QuaternD = float32(b), float32(c), float32(d)
	h.Pixdim[0] = float32(qfac)
	h.QoffsetX, h.QoffsetY, h.QoffsetZ = float32(off[0]), float32(off[1]), float32(off[2])

	sp := [3]float64{1, 1, 1}
	for i := 0; i < dim; i++ {
		sp[i] = spacing[i]
	}
	rows := [3]*[4]float32{&h.SrowX, &h.SrowY, &h.SrowZ}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rows[i][j] = float32(r[i][j] * sp[j])
		}
		rows[i][3] = float32(off[i])
	}

	lo, hi := minMax(im.Data())
	h.CalMin, h.CalMax = lo, hi
	return h
}

func minMax(data []float32) (lo, hi float32) {
	if len(data) == 0 {
		return 0, 0
	}
	lo, hi = data[0], data[0]
	for _, v := range data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func decodeVoxels(dst []float32, buf []byte, t imaging.PixelType, order binary.ByteOrder) {
	for i := range dst {
		switch t {
		case imaging.Uint8:
			dst[i] = float32(buf[i])
		case imaging.Int8:
			dst[i] = float32(int8(buf[i]))
		case imaging.Uint16:
			dst[i] = float32(order.Uint16(buf[2*i:]))
		case imaging.Int16:
			dst[i] = float32(int16(order.Uint16(buf[2*i:])))
		case imaging.Uint32:
			dst[i] = float32(order.Uint32(buf[4*i:]))
		case imaging.Int32:
			dst[i] = float32(int32(order.Uint32(buf[4*i:])))
		case imaging.Float32:
			dst[i] = math.Float32frombits(order.Uint32(buf[4*i:]))
		case imaging.Float64:
			dst[i] = float32(math.Float64frombits(order.Uint64(buf[8*i:])))
		}
	}
}

func encodeVoxels(buf []byte, src []float32, t imaging.PixelType) {
	le := binary.LittleEndian
	for i, f := range src {
		v := t.Cast(float64(f))
		switch t {
		case imaging.Uint8:
			buf[i] = uint8(v)
		case imaging.Int8:
			buf[i] = byte(int8(v))
		case imaging.Uint16:
			le.PutUint16(buf[2*i:], uint16(v))
		case imaging.Int16:
			le.PutUint16(buf[2*i:], uint16(int16(v)))
		case imaging.Uint32:
			le.PutUint32(buf[4*i:], uint32(v))
		case imaging.Int32:
			le.PutUint32(buf[4*i:], uint32(int32(v)))
		case imaging.Float32:
			le.PutUint32(buf[4*i:], math.Float32bits(v))
		case imaging.Float64:
			le.PutUint64(buf[8*i:], math.Float64bits(float64(v)))
		}
	}
}
