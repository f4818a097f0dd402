// Package geotiff writes uncompressed GeoTIFF files: RGBA renders of
// the heatmap overlay and single-band float32 elevation grids. Only
// the minimal tag set GIS tools need is emitted, so there is no
// dependency on a full TIFF library.
package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"sort"
)

const (
	DataType_Byte     = 1
	DataType_ASCII    = 2
	DataType_Short    = 3
	DataType_Long     = 4
	DataType_Rational = 5
	DataType_Double   = 12

	TagType_ImageWidth                = 256
	TagType_ImageLength               = 257
	TagType_BitsPerSample             = 258
	TagType_Compression               = 259
	TagType_PhotometricInterpretation = 262
	TagType_StripOffsets              = 273
	TagType_SamplesPerPixel           = 277
	TagType_RowsPerStrip              = 278
	TagType_StripByteCounts           = 279
	TagType_XResolution               = 282
	TagType_YResolution               = 283
	TagType_ResolutionUnit            = 296
	TagType_SampleFormat              = 339

	// GeoTIFF tags
	TagType_ModelPixelScaleTag = 33550
	TagType_ModelTiepointTag   = 33922
	TagType_GeoKeyDirectoryTag = 34735
	TagType_GeoDoubleParamsTag = 34736
	TagType_GeoAsciiParamsTag  = 34737
	TagType_GDALNoDataTag      = 42113
)

var enc = binary.LittleEndian

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

type byTag []ifdEntry

func (d byTag) Len() int           { return len(d) }
func (d byTag) Less(i, j int) bool { return d[i].tag < d[j].tag }
func (d byTag) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

// Encode writes m to w as an uncompressed RGBA GeoTIFF.
// extraTags maps TagID -> value; supported value types are
// []uint16 (SHORT), []float64 (DOUBLE), and string (ASCII).
func Encode(w io.Writer, m image.Image, extraTags map[uint16]interface{}) error {
	bounds := m.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	pixelData := new(bytes.Buffer)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := m.At(x, y).RGBA()
			pixelData.WriteByte(uint8(r >> 8))
			pixelData.WriteByte(uint8(g >> 8))
			pixelData.WriteByte(uint8(b >> 8))
			pixelData.WriteByte(uint8(a >> 8))
		}
	}

	entries := []ifdEntry{
		{TagType_BitsPerSample, DataType_Short, 4, enc16s([]uint16{8, 8, 8, 8})},
		{TagType_PhotometricInterpretation, DataType_Short, 1, enc16(2)}, // RGB
		{TagType_SamplesPerPixel, DataType_Short, 1, enc16(4)},
	}

	return writeTIFF(w, width, height, pixelData.Bytes(), entries, extraTags)
}

// EncodeFloat32 writes grid to w as a single-band float32 GeoTIFF.
// Row 0 of grid is the top (north) row. NaN cells are written as the
// nodata value -9999 and declared via the GDAL nodata tag.
func EncodeFloat32(w io.Writer, grid [][]float64, extraTags map[uint16]interface{}) error {
	height := len(grid)
	if height == 0 || len(grid[0]) == 0 {
		return fmt.Errorf("empty elevation grid")
	}
	width := len(grid[0])

	const nodata = -9999.0

	pixelData := new(bytes.Buffer)
	for _, row := range grid {
		if len(row) != width {
			return fmt.Errorf("ragged elevation grid: row has %d cells, want %d", len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = nodata
			}
			var b [4]byte
			enc.PutUint32(b[:], math.Float32bits(float32(v)))
			pixelData.Write(b[:])
		}
	}

	entries := []ifdEntry{
		{TagType_BitsPerSample, DataType_Short, 1, enc16(32)},
		{TagType_PhotometricInterpretation, DataType_Short, 1, enc16(1)}, // BlackIsZero
		{TagType_SamplesPerPixel, DataType_Short, 1, enc16(1)},
		{TagType_SampleFormat, DataType_Short, 1, enc16(3)}, // IEEE float
	}

	if extraTags == nil {
		extraTags = make(map[uint16]interface{})
	}
	if _, ok := extraTags[TagType_GDALNoDataTag]; !ok {
		extraTags[TagType_GDALNoDataTag] = "-9999"
	}

	return writeTIFF(w, width, height, pixelData.Bytes(), entries, extraTags)
}

// writeTIFF assembles header, IFD, out-of-line values and pixel data.
// The layout is header -> IFD -> value area -> single pixel strip.
func writeTIFF(w io.Writer, width, height int, pixels []byte, entries []ifdEntry, extraTags map[uint16]interface{}) error {
	// LittleEndian (II), version 42, first IFD at offset 8
	header := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	if _, err := w.Write(header); err != nil {
		return err
	}

	addEntry := func(tag uint16, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, datatype, count, data})
	}

	addEntry(TagType_ImageWidth, DataType_Short, 1, enc16(uint16(width)))
	addEntry(TagType_ImageLength, DataType_Short, 1, enc16(uint16(height)))
	addEntry(TagType_Compression, DataType_Short, 1, enc16(1)) // none
	addEntry(TagType_RowsPerStrip, DataType_Short, 1, enc16(uint16(height)))
	addEntry(TagType_XResolution, DataType_Rational, 1, encRational(72, 1))
	addEntry(TagType_YResolution, DataType_Rational, 1, encRational(72, 1))
	addEntry(TagType_ResolutionUnit, DataType_Short, 1, enc16(2)) // inch
	addEntry(TagType_StripOffsets, DataType_Long, 1, make([]byte, 4))
	addEntry(TagType_StripByteCounts, DataType_Long, 1, make([]byte, 4))

	for tag, val := range extraTags {
		switch v := val.(type) {
		case []uint16:
			addEntry(tag, DataType_Short, uint32(len(v)), enc16s(v))
		case []float64:
			addEntry(tag, DataType_Double, uint32(len(v)), encDoubles(v))
		case string:
			// ASCII values carry a null terminator
			b := append([]byte(v), 0)
			addEntry(tag, DataType_ASCII, uint32(len(b)), b)
		default:
			return fmt.Errorf("unsupported tag value type for tag %d", tag)
		}
	}

	sort.Sort(byTag(entries))

	// IFD: entry count + 12 bytes per entry + next-IFD offset.
	ifdSize := 2 + 12*len(entries) + 4
	valueDataOffset := 8 + ifdSize

	// Values wider than the 4-byte field move to the value area; the
	// field then holds their offset.
	var largeDataBuf bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if len(e.data) > 4 {
			currentOffset := uint32(valueDataOffset + largeDataBuf.Len())
			largeDataBuf.Write(e.data)
			e.data = enc32(currentOffset)
		}
	}

	pixelsOffset := uint32(valueDataOffset + largeDataBuf.Len())
	for i := range entries {
		if entries[i].tag == TagType_StripOffsets {
			entries[i].data = enc32(pixelsOffset)
		}
		if entries[i].tag == TagType_StripByteCounts {
			entries[i].data = enc32(uint32(len(pixels)))
		}
	}

	if err := binary.Write(w, enc, uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(w, enc, e.tag); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.datatype); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.count); err != nil {
			return err
		}
		var val [4]byte
		copy(val[:], e.data)
		if _, err := w.Write(val[:]); err != nil {
			return err
		}
	}
	if err := binary.Write(w, enc, uint32(0)); err != nil {
		return err
	}

	if _, err := largeDataBuf.WriteTo(w); err != nil {
		return err
	}
	if _, err := w.Write(pixels); err != nil {
		return err
	}

	return nil
}

func enc16(v uint16) []byte {
	b := make([]byte, 2)
	enc.PutUint16(b, v)
	return b
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func enc16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		enc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func encRational(num, den uint32) []byte {
	b := make([]byte, 8)
	enc.PutUint32(b[:4], num)
	enc.PutUint32(b[4:], den)
	return b
}
