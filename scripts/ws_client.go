// Package main runs a demo WebSocket client for delivery events.
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

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func post(base, path string, body []byte) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "owner")
	return http.DefaultClient.Do(req)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Register an endpoint subscribed to order.created
	resp, err := post(base, "/v1/webhooks/endpoints", []byte(`{"url":"https://hooks.example.com/orders","eventTypes":["order.created"],"name":"demo"}`))
	if err != nil {
		log.Fatal(err)
	}
	var ep struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ep); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("Endpoint ID: %s", ep.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/webhooks/deliveries/stream"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "owner")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m map[string]any
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			out, _ := json.Marshal(m)
			log.Printf("WS <- %s", out)
		}
	}()

	// Dispatch an event and watch the delivery land
	time.Sleep(500 * time.Millisecond)
	body, _ := json.Marshal(map[string]any{
		"eventType":      "order.created",
		"payload":        map[string]any{"orderId": "o_1001", "total": 42.50},
		"idempotencyKey": uuid.NewString(),
	})
	if _, err := post(base, "/v1/webhooks/dispatch", body); err != nil {
		log.Fatal(err)
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
