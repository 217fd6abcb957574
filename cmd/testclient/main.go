// Command testclient connects to the relay as a viewer and prints every
// transcript broadcast, from any session.
package main

import (
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/schema"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:3000/v1/relay", "Relay socket URL")
	finalsOnly := flag.Bool("finals", false, "Print final transcripts only")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer conn.Close()
	log.Info().Str("server", *serverURL).Msg("connected, waiting for transcripts")

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		var env schema.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			log.Info().Err(err).Msg("disconnected")
			return
		}
		if env.Event != schema.EventTranscriptionResult {
			log.Debug().Str("event", env.Event).RawJSON("data", env.Data).Msg("message")
			continue
		}
		var payload string
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			continue
		}
		var result models.TranscriptResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			log.Warn().Err(err).Msg("bad transcript")
			continue
		}
		if *finalsOnly && result.Type != models.TranscriptFinal {
			continue
		}
		log.Info().
			Str("session", result.SessionID).
			Str("type", string(result.Type)).
			Str("lang", result.Language).
			Msg(result.Text)
	}
}
