// Package main runs a demo WebSocket client for trip compliance events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const demoTrip = `{"driverId":"drv_demo","context":{"cycleType":"70h/8day","cycleHoursUsedBeforeTrip":52},"stops":[
 {"type":"start","location":"Chicago, IL","arrivalTime":"2024-09-05T06:00:00Z","departureTime":"2024-09-05T06:00:00Z","mileage":0},
 {"type":"pickup","location":"Indianapolis, IN","arrivalTime":"2024-09-05T09:00:00Z","departureTime":"2024-09-05T10:00:00Z","mileage":180},
 {"type":"dropoff","location":"Columbus, OH","arrivalTime":"2024-09-05T14:00:00Z","departureTime":"2024-09-05T15:00:00Z","mileage":355}]}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS first so the trip events are not missed
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()
	if err := c.WriteJSON(wsMessage{Type: "ping"}); err != nil {
		log.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/trips", bytes.NewReader([]byte(demoTrip)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var trip struct {
		ID     string `json:"id"`
		Report struct {
			IsCompliant    bool    `json:"isCompliant"`
			CycleHoursUsed float64 `json:"cycleHoursUsed"`
		} `json:"report"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&trip); err != nil {
		log.Fatal(err)
	}
	log.Printf("Trip %s: compliant=%v cycle=%.1fh", trip.ID, trip.Report.IsCompliant, trip.Report.CycleHoursUsed)

	// Wait briefly to receive the trip events
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
