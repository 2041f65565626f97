package main

import (
	"fmt"
	log "log/slog"
	"os"

	"eva/internal/audio"
	"eva/pkg/audioconv"
)

// output sends agent audio to the speaker and, optionally, a WAV file.
type output struct {
	player *audio.Player
	file   *os.File
	wav    *audioconv.WAVWriter
}

func newOutput(opt options) (*output, error) {
	o := &output{}
	if !opt.mute {
		p, err := audio.NewPlayer(audio.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("init speaker: %w", err)
		}
		o.player = p
	}

	if opt.record != "" {
		f, err := os.Create(opt.record)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("create recording: %w", err)
		}
		o.file = f
		o.wav = audioconv.NewWAVWriter(f, audioconv.SampleRate)
	}
	return o, nil
}

func (o *output) Play(pcm []int16) {
	if o.player != nil {
		o.player.Enqueue(pcm)
	}
	if o.wav != nil {
		if err := o.wav.Write(pcm); err != nil {
			log.Warn("Recording write failed", "err", err)
		}
	}
}

func (o *output) Interrupt() {
	if o.player != nil {
		o.player.Clear()
	}
}

func (o *output) Close() {
	if o.player != nil {
		o.player.Close()
	}
	if o.wav != nil {
		if err := o.wav.Close(); err != nil {
			log.Warn("Recording close failed", "err", err)
		}
		log.Info("Recording saved", "path", o.file.Name(), "samples", o.wav.Samples())
	}
	if o.file != nil {
		o.file.Close()
	}
}
