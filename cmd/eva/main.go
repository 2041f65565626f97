package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"eva/internal/assistant"
	"eva/internal/audio"
	"eva/internal/config"
	"eva/internal/convai"
	"eva/internal/facematch"
	"eva/internal/notify"
	"eva/internal/proxy"
	"eva/internal/server"
	"eva/internal/summary"
	"eva/pkg/audioconv"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

type options struct {
	photo  string
	input  string
	record string
	chime  string
	text   bool
	mute   bool
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")

	var opt options
	cli.StringVarP(&opt.photo, "photo", "p", "", "Identify the customer from this photo before connecting")
	cli.StringVarP(&opt.input, "input", "i", "", "Stream this audio file instead of the microphone")
	cli.StringVarP(&opt.record, "record", "r", "", "Record agent audio to this WAV file")
	cli.StringVar(&opt.chime, "chime", "", "mp3 played once the conversation is connected")
	cli.BoolVarP(&opt.text, "text", "t", false, "Type messages on stdin instead of speaking")
	cli.BoolVar(&opt.mute, "mute", false, "Do not play agent audio")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opt); err != nil {
		log.Error("Conversation failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opt options) error {
	hc, err := proxy.NewClient(cfg.Proxy, 0)
	if err != nil {
		return err
	}

	initData := &convai.Initiation{}
	if opt.photo != "" {
		res, err := identify(ctx, cfg, hc, opt.photo)
		if err != nil {
			return err
		}
		if !res.Matched() {
			return fmt.Errorf("face not matched (status %s, confidence %s)", res.Status, res.Confidence)
		}
		fmt.Printf("Welcome, %s (confidence %s)\n", res.Name, res.Confidence)
		initData.DynamicVariables = res.Variables()
	}

	signed, err := convai.NewClient(cfg.XIAPIKey, hc).SignedURL(ctx, cfg.AgentID)
	if err != nil {
		return err
	}

	sess, err := convai.Dial(ctx, signed, initData)
	if err != nil {
		return err
	}
	defer sess.Close()

	if opt.chime != "" {
		if err := notify.Chime(opt.chime); err != nil {
			log.Warn("Chime failed", "err", err)
		}
	}

	out, err := newOutput(opt)
	if err != nil {
		return err
	}
	defer out.Close()

	replies := make(chan agentMessage, 16)
	go printReplies(ctx, server.NewProcessor(*cfg, hc), replies)

	go func() {
		var err error
		switch {
		case opt.text:
			err = typeMessages(ctx, sess)
		case opt.input != "":
			err = streamFile(ctx, sess, opt.input)
		default:
			err = streamMic(ctx, sess)
		}
		if err != nil {
			log.Error("Input stopped", "err", err)
		}
	}()

	var conversationID string
	handler := convai.HandlerFunc(func(ev convai.Event) {
		switch ev.Kind {
		case convai.EventMetadata:
			conversationID = ev.ConversationID
			log.Info("Connected", "conversation", ev.ConversationID, "format", ev.OutputFormat)
			if ev.OutputFormat != "" && ev.OutputFormat != "pcm_16000" {
				log.Warn("Unexpected agent audio format", "format", ev.OutputFormat)
			}
		case convai.EventUserText:
			fmt.Println("you: ", ev.Text)
		case convai.EventAgentText:
			select {
			case replies <- agentMessage{conversationID, ev.Text}:
			default:
				log.Warn("Reply queue full, dropping message")
			}
		case convai.EventAudio:
			out.Play(audioconv.BytesToPCM16(ev.Audio))
		case convai.EventInterruption:
			out.Interrupt()
		}
	})

	return sess.Run(ctx, handler)
}

func identify(ctx context.Context, cfg *config.Config, hc *http.Client, path string) (facematch.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return facematch.Result{}, err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, facematch.DefaultTimeout)
	defer cancel()
	return facematch.New(cfg.FaceMatchURL, hc).Match(ctx, f.Name(), f)
}

type agentMessage struct {
	conversationID string
	text           string
}

func printReplies(ctx context.Context, p *assistant.Processor, in <-chan agentMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-in:
			reply := p.Process(ctx, msg.conversationID, msg.text)
			if !reply.Summary {
				fmt.Println("eva: ", reply.Text)
				continue
			}
			for _, c := range reply.Cards {
				printCard(c)
			}
		}
	}
}

func printCard(c summary.Card) {
	fmt.Printf("┌ %s %s\n", c.LoanType, c.AccountNumber)
	if c.Header2Text != "" {
		fmt.Printf("│ %s\n", c.Header2Text)
	}
	for _, f := range []summary.Field{
		{Label: "Amount", Value: c.Amount},
		{Label: "Start Date", Value: c.StartDate},
		{Label: "Interest Rate", Value: c.InterestRate},
		{Label: "Balance Tenure", Value: c.BalanceTenure},
		{Label: "EMI", Value: c.EMI},
		{Label: "Outstanding", Value: c.OutstandingPrincipal},
		{Label: "Principal", Value: c.Principal},
	} {
		if f.Value != "" {
			fmt.Printf("│ %-15s %s\n", f.Label, f.Value)
		}
	}
	for _, f := range c.CustomFields {
		if f.Value != "" {
			fmt.Printf("│ %-15s %s\n", f.Label, f.Value)
		}
	}
	fmt.Println("└")
}

func streamMic(ctx context.Context, sess *convai.Session) error {
	rec := audio.NewRecorder()
	if err := rec.Init(); err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer rec.Close()

	log.Info("Listening... (Ctrl-C to end)")
	return rec.Stream(ctx, func(frame []int16) error {
		log.Debug("Mic frame", "level", fmt.Sprintf("%.3f", audio.RMS(frame)))
		return sess.SendAudio(audioconv.PCM16ToBytes(frame))
	})
}

func streamFile(ctx context.Context, sess *convai.Session, path string) error {
	samples, err := audioconv.ConvertFileToPCM16k(ctx, path, audioconv.Options{})
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	frameDur := time.Duration(audio.FrameSize) * time.Second / audio.SampleRate
	tick := time.NewTicker(frameDur)
	defer tick.Stop()

	for _, frame := range audioconv.Chunk(audioconv.Float32ToPCM16(samples), audio.FrameSize) {
		if err := sess.SendAudio(audioconv.PCM16ToBytes(frame)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
	log.Info("Input file sent", "path", path, "samples", len(samples))
	return nil
}

func typeMessages(ctx context.Context, sess *convai.Session) error {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if line := sc.Text(); line != "" {
			if err := sess.SendText(line); err != nil {
				return err
			}
		}
	}
	return sc.Err()
}
