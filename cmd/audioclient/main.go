// Command audioclient streams an audio file to the relay as base64
// audioFrame messages, optionally setting a destination page first, and
// prints every message the relay sends back.
package main

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-to-notion/internal/schema"
)

const wavHeaderSize = 44

func main() {
	audioFile := flag.String("audio", "testdata/sample.wav", "Path to the audio file")
	serverURL := flag.String("server", "ws://localhost:3000/v1/relay", "Relay socket URL")
	target := flag.String("target", "", "Destination page URL (optional)")
	chunkSize := flag.Int("chunk", 16000, "Bytes per audio frame")
	interval := flag.Duration("interval", 100*time.Millisecond, "Delay between frames")
	linger := flag.Duration("linger", 10*time.Second, "How long to wait for results after the last frame")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open audio file")
	}
	defer f.Close()
	skipWAVHeader(f, log)

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverURL).Msg("failed to connect")
	}
	defer conn.Close()
	log.Info().Str("server", *serverURL).Msg("connected")

	targetDone := make(chan struct{})
	go readResponses(conn, log, targetDone)

	if *target != "" {
		send(conn, log, schema.EventSetTarget, map[string]string{"url": *target})
		select {
		case <-targetDone:
		case <-time.After(30 * time.Second):
			log.Warn().Msg("no target response, streaming anyway")
		}
	}

	buf := make([]byte, *chunkSize)
	var frames, total int
	start := time.Now()
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			frames++
			total += n
			send(conn, log, schema.EventAudioFrame, base64.StdEncoding.EncodeToString(buf[:n]))
			if frames%10 == 0 {
				log.Debug().Int("frames", frames).Int("bytes", total).Msg("streaming")
			}
			time.Sleep(*interval)
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				log.Fatal().Err(err).Msg("failed to read audio")
			}
			break
		}
	}
	log.Info().Int("frames", frames).Int("bytes", total).Dur("elapsed", time.Since(start)).Msg("finished streaming")

	time.Sleep(*linger)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// skipWAVHeader drops a PCM WAV header so only sample data is sent. Other
// formats are sent as is.
func skipWAVHeader(f *os.File, log zerolog.Logger) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil || string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		_, _ = f.Seek(0, io.SeekStart)
		return
	}
	log.Info().
		Uint16("channels", binary.LittleEndian.Uint16(header[22:24])).
		Uint32("sampleRate", binary.LittleEndian.Uint32(header[24:28])).
		Uint16("bitsPerSample", binary.LittleEndian.Uint16(header[34:36])).
		Msg("WAV file")
}

func send(conn *websocket.Conn, log zerolog.Logger, event string, data any) {
	msg, err := schema.NewEnvelope(event, data)
	if err != nil {
		log.Fatal().Err(err).Msg("encode")
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Fatal().Err(err).Str("event", event).Msg("send failed")
	}
}

func readResponses(conn *websocket.Conn, log zerolog.Logger, targetDone chan<- struct{}) {
	targetSignalled := false
	for {
		var env schema.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Event {
		case schema.EventTranscriptionResult:
			var payload string
			_ = json.Unmarshal(env.Data, &payload)
			var tr struct {
				Type string `json:"type"`
				Text string `json:"transcription"`
			}
			_ = json.Unmarshal([]byte(payload), &tr)
			log.Info().Str("type", tr.Type).Msg(tr.Text)
		case schema.EventTargetResponse:
			log.Info().RawJSON("response", env.Data).Msg("target")
			if !targetSignalled {
				targetSignalled = true
				close(targetDone)
			}
		default:
			log.Info().Str("event", env.Event).RawJSON("data", env.Data).Msg("message")
		}
	}
}
