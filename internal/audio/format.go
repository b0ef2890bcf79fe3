// Package audio identifies audio container formats from their leading bytes.
package audio

import "bytes"

// Format represents an audio container format.
type Format string

// Formats recognized by DetectFormat.
const (
	FormatFLAC    Format = "flac"
	FormatWAV     Format = "wav"
	FormatOgg     Format = "ogg"
	FormatMP3     Format = "mp3"
	FormatUnknown Format = "unknown"
)

const (
	riffHeaderSize      = 12
	mpegHeaderSize      = 4
	mpegSyncMask        = 0xE0
	mpegVersionReserved = 0x01
	mpegLayerReserved   = 0x00
	mpegBitrateInvalid  = 0x0F
	mpegRateReserved    = 0x03
)

var (
	magicFLAC = []byte("fLaC")
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
	magicOgg  = []byte("OggS")
	magicID3  = []byte("ID3")
)

// DetectFormat sniffs the container format from the leading bytes.
func DetectFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, magicFLAC):
		return FormatFLAC
	case len(data) >= riffHeaderSize && bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWAVE):
		return FormatWAV
	case bytes.HasPrefix(data, magicOgg):
		return FormatOgg
	case bytes.HasPrefix(data, magicID3):
		return FormatMP3
	case isMPEGFrame(data):
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// isMPEGFrame checks a bare frame header. Reserved version, layer, bitrate
// and sample-rate values are rejected, as are FF FE (UTF-16LE byte-order
// mark) and FF FF.
func isMPEGFrame(data []byte) bool {
	if len(data) < mpegHeaderSize || data[0] != 0xFF || data[1]&mpegSyncMask != mpegSyncMask {
		return false
	}

	if data[1] == 0xFE || data[1] == 0xFF {
		return false
	}

	version := (data[1] >> 3) & 0x03
	layer := (data[1] >> 1) & 0x03
	bitrate := data[2] >> 4
	rate := (data[2] >> 2) & 0x03

	return version != mpegVersionReserved &&
		layer != mpegLayerReserved &&
		bitrate != mpegBitrateInvalid &&
		rate != mpegRateReserved
}

// IsAudio reports whether data starts with a recognized audio signature.
func IsAudio(data []byte) bool {
	return DetectFormat(data) != FormatUnknown
}
