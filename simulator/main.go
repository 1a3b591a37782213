package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"site-deployer/pkg/job"
)

func main() {
	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://api:8080/deployments"
	}
	wsURL := os.Getenv("WS_URL")
	if wsURL == "" {
		wsURL = "ws://gateway:8082/ws"
	}

	ratePerSec := 1
	if v := os.Getenv("RATE_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ratePerSec = n
		}
	}

	interval := time.Second
	if ratePerSec > 0 {
		interval = time.Second / time.Duration(ratePerSec)
	}

	ticker := time.NewTicker(interval)
	for range ticker.C {
		id, err := submit(apiURL)
		if err != nil {
			log.Printf("failed to submit deployment: %v", err)
			continue
		}
		log.Printf("submitted deployment %s", id)
		go watch(wsURL, id)
	}
}

func submit(apiURL string) (string, error) {
	req := job.SubmissionRequest{
		RepoURL: fmt.Sprintf("https://github.com/example/site-%d", rand.Intn(1000)),
	}
	body, _ := json.Marshal(req)
	resp, err := http.Post(apiURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// watch registers for one deployment's updates and logs them until the
// deployment reaches a terminal status.
func watch(wsURL, id string) {
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Printf("failed to dial gateway: %v", err)
		return
	}
	defer ws.Close()

	if err := ws.WriteJSON(map[string]string{"action": "register", "id": id}); err != nil {
		log.Printf("failed to register %s: %v", id, err)
		return
	}

	ws.SetReadDeadline(time.Now().Add(10 * time.Minute))
	for {
		var ev struct {
			Type    string     `json:"type"`
			ID      string     `json:"id"`
			Status  job.Status `json:"status"`
			Error   string     `json:"error"`
			Message string     `json:"message"`
		}
		if err := ws.ReadJSON(&ev); err != nil {
			log.Printf("watch %s ended: %v", id, err)
			return
		}
		switch ev.Type {
		case "SYSTEM":
			log.Printf("%s: %s", id, ev.Message)
		case "STATUS_UPDATE":
			log.Printf("%s: status=%s error=%q", id, ev.Status, ev.Error)
			if ev.Status.Terminal() {
				return
			}
		}
	}
}
