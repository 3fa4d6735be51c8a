package recorder

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV flushes an ordered sequence of S16LE PCM chunks to a standard
// WAV file. The write is atomic: encoded to a scratch file first, renamed
// into place only on success.
func writeWAV(path string, chunks [][]byte) error {
	tmp := path + ".part"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("recorder: create wav: %w", err)
	}

	enc := wav.NewEncoder(f, audioSampleRate, 16, audioChannels, 1)

	total := 0
	for _, c := range chunks {
		total += len(c) / 2
	}
	samples := make([]int, 0, total)
	for _, c := range chunks {
		for i := 0; i+1 < len(c); i += 2 {
			samples = append(samples, int(int16(binary.LittleEndian.Uint16(c[i:]))))
		}
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: audioChannels, SampleRate: audioSampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("recorder: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("recorder: finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("recorder: close wav: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("recorder: rename wav: %w", err)
	}
	return nil
}
