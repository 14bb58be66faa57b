package matrix

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etymdef/internal/domain"
)

func TestFromRows(t *testing.T) {
	m, err := FromRows([][]float32{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Rows())
	assert.Equal(t, 2, m.Dim())
	assert.Equal(t, []float32{3, 4}, m.Row(1))

	_, err = FromRows([][]float32{{1, 2}, {3}})
	assert.ErrorIs(t, err, domain.ErrShape)
}

func TestConcat_PreservesOrder(t *testing.T) {
	a, _ := FromRows([][]float32{{1, 1}, {2, 2}})
	b, _ := FromRows([][]float32{{3, 3}})
	c, err := Concat(a, b)
	require.NoError(t, err)
	require.Equal(t, 3, c.Rows())
	for i := 0; i < 3; i++ {
		assert.Equal(t, float32(i+1), c.Row(i)[0])
	}

	d, _ := FromRows([][]float32{{1, 2, 3}})
	_, err = Concat(a, d)
	assert.ErrorIs(t, err, domain.ErrShape)
}

func TestGather(t *testing.T) {
	m, _ := FromRows([][]float32{{0}, {10}, {20}, {30}})
	g, err := m.Gather([]int{3, 1})
	require.NoError(t, err)
	assert.Equal(t, []float32{30, 10}, g.Data())

	_, err = m.Gather([]int{4})
	assert.ErrorIs(t, err, domain.ErrShape)
}

func TestRowDoesNotOverrunNeighbour(t *testing.T) {
	m, _ := FromRows([][]float32{{1, 2}, {3, 4}})
	r := m.Row(0)
	r = append(r, 99)
	assert.Equal(t, []float32{3, 4}, m.Row(1))
	assert.Len(t, r, 3)
}

func TestCodec_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	random := New(50, 16)
	for i := range random.data {
		random.data[i] = rng.Float32()
	}
	// Highly compressible payload exercises the stored-block path.
	repetitive := New(200, 8)
	for i := range repetitive.data {
		repetitive.data[i] = float32(i % 3)
	}

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for name, m := range map[string]*Matrix{"random": random, "repetitive": repetitive, "empty": New(0, 4)} {
			t.Run(c.String()+"/"+name, func(t *testing.T) {
				var buf bytes.Buffer
				require.NoError(t, Encode(&buf, m, c))
				got, err := Decode(&buf)
				require.NoError(t, err)
				assert.Equal(t, m.Rows(), got.Rows())
				assert.Equal(t, m.Dim(), got.Dim())
				assert.Equal(t, len(m.Data()), len(got.Data()))
				for i := range m.Data() {
					require.Equal(t, m.Data()[i], got.Data()[i])
				}
			})
		}
	}
}

func TestCodec_DetectsCorruption(t *testing.T) {
	m, _ := FromRows([][]float32{{1, 2, 3}, {4, 5, 6}})
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m, CompressionNone))

	data := buf.Bytes()
	hdrSize := binary.Size(fileHeader{})
	data[hdrSize] ^= 0xFF
	_, err := Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrChecksum)

	bad := append([]byte(nil), data...)
	bad[0] = 0
	_, err = Decode(bytes.NewReader(bad))
	assert.ErrorIs(t, err, ErrInvalidMagic)

	_, err = Decode(bytes.NewReader(data[:hdrSize+3]))
	assert.Error(t, err)
}

func TestCodec_RejectsOversizedHeader(t *testing.T) {
	tests := []struct {
		name                           string
		rows, dim, rawSize, storedSize uint64
	}{
		{"ProductWrapsToZero", 1 << 62, 1, 0, 0},
		{"RowsBeyondInt", math.MaxUint64, 0, 0, 0},
		{"DimBeyondInt", 0, 1 << 63, 0, 0},
		{"StoredSizeBeyondInt", 1, 1, 4, math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			hdr := fileHeader{
				Magic:      magicNumber,
				Version:    version,
				Rows:       tt.rows,
				Dim:        tt.dim,
				RawSize:    tt.rawSize,
				StoredSize: tt.storedSize,
			}
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, &hdr))
			require.NotPanics(t, func() {
				_, err := Decode(bytes.NewReader(buf.Bytes()))
				assert.ErrorIs(t, err, ErrCorruptedBlock)
			})
		})
	}
}

func TestCodec_EmptyMatrix(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, New(0, 3), CompressionZSTD))
	m, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Rows())
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("lz4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, c)
	_, err = ParseCompression("gzip")
	assert.Error(t, err)
}
