package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 250 // planner/vendor pairs (500 users total)
	MsgCount  = 20  // Messages per user
)

type AuthResponse struct {
	Token string `json:"access_token"`
	ID    int64  `json:"id"`
}

type ConversationResponse struct {
	ID int64 `json:"id"`
}

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d pairs, %d messages each...", PairCount, MsgCount)
	var wg sync.WaitGroup

	// Pair i: planner_i opens a conversation with vendor_i.
	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

func runPair(pairID int) {
	planner := fmt.Sprintf("planner_%d", pairID)
	vendor := fmt.Sprintf("vendor_%d", pairID)
	pass := "password123"

	tokenP, idP := authenticate(planner, pass, "planner")
	tokenV, idV := authenticate(vendor, pass, "vendor")
	if tokenP == "" || tokenV == "" {
		return
	}

	convID := createConversation(tokenP, idP, idV)
	if convID == 0 {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, tokenP, convID, idP, planner)
	go spamChat(&wsWg, tokenV, convID, idV, vendor)
	wsWg.Wait()
}

// authenticate registers (ignores error if exists) and logs in.
func authenticate(username, password, role string) (string, int64) {
	postJSON("/register", map[string]string{
		"username": username,
		"password": password,
		"role":     role,
	})

	resp, err := postJSON("/login", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Printf("❌ Login Failed [%s]: %v", username, err)
		return "", 0
	}
	defer resp.Body.Close()

	var data AuthResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token, data.ID
}

func createConversation(token string, plannerID, vendorID int64) int64 {
	body := map[string]int64{"plannerId": plannerID, "vendorId": vendorID}
	jsonBody, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", BaseURL+"/api/conversations", bytes.NewBuffer(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil || (resp.StatusCode != 200 && resp.StatusCode != 201) {
		log.Printf("❌ Create Conversation Failed: %v", err)
		return 0
	}
	defer resp.Body.Close()

	var data ConversationResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.ID
}

// spamChat joins the conversation over the websocket (so the server runs a
// delivery session for us) and sends messages over the REST surface.
func spamChat(wg *sync.WaitGroup, token string, convID, senderID int64, user string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", WSURL, token), nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", user, err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"action": "join", "conversation_id": convID}); err != nil {
		log.Printf("❌ Join Fail [%s]: %v", user, err)
		return
	}

	// Drain inbound frames so the server's send buffer never fills.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < MsgCount; i++ {
		body := map[string]any{
			"conversationId": convID,
			"senderId":       senderID,
			"messageText":    fmt.Sprintf("LoadTest Msg %d from %s", i, user),
		}
		jsonBody, _ := json.Marshal(body)
		req, _ := http.NewRequest("POST", BaseURL+"/api/messages", bytes.NewBuffer(jsonBody))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Printf("❌ Send Fail [%s]: %v", user, err)
			break
		}
		resp.Body.Close()

		// Small sleep to prevent instant localhost bottleneck.
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished sending %d msgs", user, MsgCount)
}

func postJSON(endpoint string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
