package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Copperline server URL")
	user := flag.String("user", "cli-user", "User ID for chat")
	model := flag.String("model", "", "Model name (server default when empty)")
	flag.Parse()

	conversationID := uuid.New().String()

	fmt.Println("Copperline CLI Chat")
	fmt.Printf("Server: %s | User: %s | Conversation: %s\n", *server, *user, conversationID)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /models, /providers, /debug")
	fmt.Println("---")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch input {
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		case "/models":
			fetchModels(*server)
			continue
		case "/providers":
			fetchProviders(*server)
			continue
		case "/debug":
			fetchDebug(*server, *user, conversationID, *model)
			continue
		}

		sendMessage(*server, *user, conversationID, *model, input)
	}
}

func fetchModels(server string) {
	resp, err := http.Get(server + "/api/ai/models")
	if err != nil {
		printError("Failed to fetch models: %v", err)
		return
	}
	defer resp.Body.Close()

	var body struct {
		Models []struct {
			Name       string `json:"name"`
			ProviderID string `json:"provider_id"`
			Available  bool   `json:"available"`
		} `json:"models"`
		DefaultModel string `json:"default_model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		printError("Failed to parse models: %v", err)
		return
	}
	fmt.Println("Available models:")
	for _, m := range body.Models {
		marker := " "
		if m.Name == body.DefaultModel {
			marker = "*"
		}
		fmt.Printf("  %s %s (%s)\n", marker, m.Name, m.ProviderID)
	}
}

func fetchProviders(server string) {
	resp, err := http.Get(server + "/api/ai/providers")
	if err != nil {
		printError("Failed to fetch providers: %v", err)
		return
	}
	defer resp.Body.Close()

	var body struct {
		Providers []struct {
			ID       string `json:"id"`
			Enabled  bool   `json:"enabled"`
			Failures int    `json:"failures"`
		} `json:"providers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		printError("Failed to parse providers: %v", err)
		return
	}
	fmt.Println("Providers:")
	for _, p := range body.Providers {
		icon := "\033[31m✗\033[0m"
		if p.Enabled {
			icon = "\033[32m✓\033[0m"
		}
		fmt.Printf("  %s %s (failures: %d)\n", icon, p.ID, p.Failures)
	}
}

func fetchDebug(server, user, conversationID, model string) {
	url := fmt.Sprintf("%s/api/chat/%s/debug", server, conversationID)
	if model != "" {
		url += "?model=" + model
	}
	req, _ := http.NewRequest("GET", url, nil)
	req.Header.Set("X-User-ID", user)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		printError("Failed to fetch debug info: %v", err)
		return
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}
}

func sendMessage(server, user, conversationID, model, content string) {
	body, _ := json.Marshal(map[string]string{
		"message": content,
		"model":   model,
	})

	url := fmt.Sprintf("%s/api/chat/%s", server, conversationID)
	req, _ := http.NewRequest("POST", url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", user)

	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	// The reply streams as plain text; print chunks as they arrive.
	buf := make([]byte, 512)
	for {
		n, rErr := resp.Body.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if rErr != nil {
			break
		}
	}
	fmt.Println()
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
