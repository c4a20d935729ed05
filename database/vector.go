package database

import (
	"encoding/binary"
	"math"

	apperrors "persona-recall/errors"
)

const (
	blobHeaderSize = 4
	blobValueSize  = 4
)

// EncodeVector packs a float32 vector into the SQLite blob format:
// a 4-byte little-endian dimension header followed by the values as
// little-endian float32s.
func EncodeVector(vector []float32) ([]byte, error) {
	if len(vector) == 0 {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "cannot encode empty vector")
	}

	blob := make([]byte, blobHeaderSize+len(vector)*blobValueSize)
	binary.LittleEndian.PutUint32(blob[:blobHeaderSize], uint32(len(vector)))

	offset := blobHeaderSize
	for i, value := range vector {
		if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
			return nil, apperrors.WrapErrorf(apperrors.ErrInvalidInput, "non-finite vector value at index %d", i)
		}
		binary.LittleEndian.PutUint32(blob[offset:offset+blobValueSize], math.Float32bits(value))
		offset += blobValueSize
	}

	return blob, nil
}

// DecodeVector unpacks a blob written by EncodeVector. Corrupt blobs yield
// an ErrParse-wrapped error so scans can skip the record and keep going.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < blobHeaderSize {
		return nil, apperrors.WrapErrorf(apperrors.ErrParse, "vector blob too short: %d bytes", len(blob))
	}

	dim := int(binary.LittleEndian.Uint32(blob[:blobHeaderSize]))
	if dim <= 0 || len(blob) != blobHeaderSize+dim*blobValueSize {
		return nil, apperrors.WrapErrorf(apperrors.ErrParse, "vector blob dimension %d does not match payload of %d bytes", dim, len(blob)-blobHeaderSize)
	}

	vector := make([]float32, dim)
	offset := blobHeaderSize
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[offset : offset+blobValueSize]))
		offset += blobValueSize
	}

	return vector, nil
}
