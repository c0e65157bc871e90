// Package main provides a replay client for exercising a running posture
// server without hardware. It reads controller-format fixture lines (11 or
// 17 comma-separated values per line), streams them over the websocket
// ingest endpoint, and prints each classification reply.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sitsense/posture.report/internal/posture"
	"github.com/sitsense/posture.report/internal/seatlink"
)

var (
	serverURL = flag.String("server", "ws://localhost:8080/ws", "Websocket endpoint")
	fixture   = flag.String("fixture", "fixtures.txt", "Fixture file with one frame per line")
	deviceID  = flag.String("device", "replay-01", "Device ID to report")
	interval  = flag.Duration("interval", time.Second, "Delay between frames")
	loop      = flag.Bool("loop", false, "Restart from the top when the fixture runs out")
)

func main() {
	flag.Parse()

	frames, err := loadFixture(*fixture)
	if err != nil {
		log.Fatalf("failed to load fixture: %v", err)
	}
	if len(frames) == 0 {
		log.Fatalf("fixture %s holds no frames", *fixture)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverURL, err)
	}
	defer conn.Close()
	log.Printf("connected to %s, replaying %d frames", *serverURL, len(frames))

	var id int64
	for {
		for _, frame := range frames {
			id++
			frame.MessageID = id
			frame.DeviceID = *deviceID
			if err := conn.WriteJSON(frame); err != nil {
				log.Fatalf("write failed: %v", err)
			}

			var reply struct {
				ID         int64   `json:"id"`
				Posture    *int    `json:"posture"`
				Confidence float64 `json:"confidence"`
				Error      string  `json:"error"`
			}
			if err := conn.ReadJSON(&reply); err != nil {
				log.Fatalf("read failed: %v", err)
			}
			if reply.Error != "" {
				log.Printf("frame %d rejected: %s", reply.ID, reply.Error)
			} else if reply.Posture != nil {
				label := posture.Label(*reply.Posture)
				fmt.Printf("frame %d: %s (%.2f)\n", reply.ID, label.Name(), reply.Confidence)
			}

			time.Sleep(*interval)
		}
		if !*loop {
			return
		}
	}
}

// loadFixture parses controller-format lines, skipping blanks and # comments.
func loadFixture(path string) ([]*posture.SensorFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frames []*posture.SensorFrame
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		frame, err := seatlink.ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		frames = append(frames, frame)
	}
	return frames, scanner.Err()
}
