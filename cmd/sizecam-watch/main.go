// sizecam-watch - follow a running sizecam instance from the terminal.
//
// Connects to the status websocket and prints each measurement update as
// it arrives.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sizecam/sizecam/pkg/pipeline"
)

func main() {
	addr := flag.String("addr", "localhost:8077", "sizecam host:port")
	flag.Parse()

	url := fmt.Sprintf("ws://%s/ws/status", *addr)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("watching %s\n", url)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		conn.Close()
	}()

	var last string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var st pipeline.State
		if err := json.Unmarshal(msg, &st); err != nil {
			continue
		}

		line := format(st)
		if line != last {
			fmt.Println(line)
			last = line
		}
	}
}

func format(st pipeline.State) string {
	switch {
	case st.Loading:
		return "loading detection model..."
	case st.Error != "":
		return "error: " + st.Error
	case st.LastMeasurement != nil:
		m := st.LastMeasurement
		return fmt.Sprintf("%s  %.2fm x %.2fm", m.Label, m.WidthMeters, m.HeightMeters)
	case st.VideoOn:
		return "measuring... no object yet"
	default:
		return "idle"
	}
}
