package mesh

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
)

const (
	binaryHeaderSize   = 80
	binaryPreambleSize = binaryHeaderSize + 4
	binaryTriangleSize = 50
	// Offset of the first vertex inside a binary triangle record; the normal is skipped.
	binaryVertexOffset = 12

	// A mesh whose enclosed volume is below this share of its bounding box is flagged.
	suspiciousFillRatio = 0.01
)

var (
	// ErrParseFailure reports a buffer that is neither a valid binary nor a valid text mesh.
	ErrParseFailure = errors.New("mesh parse failure")
	// ErrTooLarge reports an upload that exceeds the configured byte limit.
	ErrTooLarge = errors.New("mesh exceeds upload limit")
)

var (
	solidToken    = []byte("solid")
	vertexPattern = regexp.MustCompile(`vertex\s+` + floatPattern + `\s+` + floatPattern + `\s+` + floatPattern)
)

const floatPattern = `([-+]?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][-+]?\d+)?)`

// Format names the sub-format a buffer was decoded as.
type Format string

const (
	FormatBinary Format = "binary"
	FormatASCII  Format = "ascii"
)

// GeometryStats is the volume and axis-aligned extent of a triangle mesh.
// Size fields are nil when no finite vertex was observed.
type GeometryStats struct {
	VolumeMM3       float64  `json:"volume_mm3"`
	SizeXMM         *float64 `json:"size_x_mm,omitempty"`
	SizeYMM         *float64 `json:"size_y_mm,omitempty"`
	SizeZMM         *float64 `json:"size_z_mm,omitempty"`
	SignedVolumeMM3 float64  `json:"signed_volume_mm3"`
	TriangleCount   int      `json:"triangle_count"`
	Format          Format   `json:"format"`
}

// BoundingBoxVolumeMM3 returns the volume of the bounding box, or 0 when it is unknown.
func (g GeometryStats) BoundingBoxVolumeMM3() float64 {
	if g.SizeXMM == nil || g.SizeYMM == nil || g.SizeZMM == nil {
		return 0
	}
	return *g.SizeXMM * *g.SizeYMM * *g.SizeZMM
}

// Suspicious reports whether the enclosed volume is implausibly small for the
// mesh's extent, which usually means an open or inconsistently wound surface.
// Pricing still uses VolumeMM3 as-is; this is a signal for the caller to surface.
func (g GeometryStats) Suspicious() bool {
	box := g.BoundingBoxVolumeMM3()
	if box <= 0 {
		return false
	}
	return g.VolumeMM3 < box*suspiciousFillRatio
}

// ReadLimited reads all of r, failing with ErrTooLarge past limit bytes.
// A non-positive limit disables the cap.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read mesh: %w", err)
	}
	if limit > 0 && int64(len(buf)) > limit {
		return nil, fmt.Errorf("read mesh (limit %d bytes): %w", limit, ErrTooLarge)
	}
	return buf, nil
}

// Analyze decodes a binary or text STL buffer and computes its volume and
// bounding box in a single pass over the triangles.
func Analyze(buf []byte) (GeometryStats, error) {
	if stats, ok := analyzeBinary(buf); ok {
		if stats.TriangleCount == 0 {
			return GeometryStats{}, fmt.Errorf("binary mesh has no triangles: %w", ErrParseFailure)
		}
		return stats, nil
	}

	text := bytes.TrimLeft(buf, " \t\r\n\f\v")
	if !bytes.HasPrefix(text, solidToken) {
		return GeometryStats{}, fmt.Errorf("unrecognized mesh format (%d bytes): %w", len(buf), ErrParseFailure)
	}

	stats := analyzeASCII(text)
	if stats.TriangleCount == 0 {
		return GeometryStats{}, fmt.Errorf("text mesh has no triangles: %w", ErrParseFailure)
	}
	return stats, nil
}

// analyzeBinary returns ok=false when the buffer length does not match the
// declared triangle count, in which case the text form is tried instead.
func analyzeBinary(buf []byte) (GeometryStats, bool) {
	if len(buf) < binaryPreambleSize {
		return GeometryStats{}, false
	}
	count := uint64(binary.LittleEndian.Uint32(buf[binaryHeaderSize:binaryPreambleSize]))
	if uint64(len(buf)) != binaryPreambleSize+count*binaryTriangleSize {
		return GeometryStats{}, false
	}

	var acc accumulator
	for i := uint64(0); i < count; i++ {
		record := buf[binaryPreambleSize+i*binaryTriangleSize:]
		var tri [3][3]float64
		for v := 0; v < 3; v++ {
			for c := 0; c < 3; c++ {
				off := binaryVertexOffset + 12*v + 4*c
				tri[v][c] = float64(math.Float32frombits(binary.LittleEndian.Uint32(record[off : off+4])))
			}
		}
		acc.add(tri)
	}
	return acc.stats(FormatBinary), true
}

func analyzeASCII(text []byte) GeometryStats {
	var acc accumulator
	var tri [3][3]float64
	next := 0
	rest := text
	for {
		loc := vertexPattern.FindSubmatchIndex(rest)
		if loc == nil {
			break
		}
		vertex, ok := parseVertex(rest, loc)
		rest = rest[loc[1]:]
		if !ok {
			// A vertex that does not parse breaks the current triangle.
			next = 0
			continue
		}
		tri[next] = vertex
		next++
		if next == 3 {
			acc.add(tri)
			next = 0
		}
	}
	return acc.stats(FormatASCII)
}

func parseVertex(src []byte, loc []int) ([3]float64, bool) {
	var v [3]float64
	for c := 0; c < 3; c++ {
		start, end := loc[2+2*c], loc[3+2*c]
		f, err := strconv.ParseFloat(string(src[start:end]), 64)
		if err != nil {
			return v, false
		}
		v[c] = f
	}
	return v, true
}

// accumulator keeps the running signed volume and bounding box.
type accumulator struct {
	signed    float64
	min, max  [3]float64
	seen      bool
	triangles int
}

func (a *accumulator) add(tri [3][3]float64) {
	a.triangles++

	finite := true
	for _, v := range tri {
		if !isFinite(v) {
			finite = false
			continue
		}
		a.extend(v)
	}
	if !finite {
		return
	}

	p, q, r := tri[0], tri[1], tri[2]
	cross := [3]float64{
		q[1]*r[2] - q[2]*r[1],
		q[2]*r[0] - q[0]*r[2],
		q[0]*r[1] - q[1]*r[0],
	}
	a.signed += (p[0]*cross[0] + p[1]*cross[1] + p[2]*cross[2]) / 6
}

func (a *accumulator) extend(v [3]float64) {
	if !a.seen {
		a.min, a.max, a.seen = v, v, true
		return
	}
	for c := 0; c < 3; c++ {
		a.min[c] = math.Min(a.min[c], v[c])
		a.max[c] = math.Max(a.max[c], v[c])
	}
}

func (a *accumulator) stats(format Format) GeometryStats {
	stats := GeometryStats{
		VolumeMM3:       math.Abs(a.signed),
		SignedVolumeMM3: a.signed,
		TriangleCount:   a.triangles,
		Format:          format,
	}
	if a.seen {
		x, y, z := a.max[0]-a.min[0], a.max[1]-a.min[1], a.max[2]-a.min[2]
		stats.SizeXMM, stats.SizeYMM, stats.SizeZMM = &x, &y, &z
	}
	return stats
}

func isFinite(v [3]float64) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
