package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:3210", "SQL Mentor server URL")
	session := flag.String("session", "cli", "Session id attached to questions")
	flag.Parse()

	fmt.Println("SQL Mentor CLI")
	fmt.Printf("Server: %s | Session: %s\n", *server, *session)
	fmt.Println("Ask questions in plain language. Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /teach <correction>, /teach! <correction> (supersede), /knowledge, /schema")
	fmt.Println("---")

	lastAttemptID := ""
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
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if input == "/knowledge" {
			fetchKnowledge(*server)
			continue
		}
		if input == "/schema" {
			fetchSchema(*server)
			continue
		}
		if text, ok := strings.CutPrefix(input, "/teach! "); ok {
			lastAttemptID = teach(*server, text, lastAttemptID, true)
			continue
		}
		if text, ok := strings.CutPrefix(input, "/teach "); ok {
			lastAttemptID = teach(*server, text, lastAttemptID, false)
			continue
		}

		lastAttemptID = ask(*server, *session, input)
	}
}

type answer struct {
	AttemptID     string `json:"attempt_id"`
	AttemptNumber int    `json:"attempt_number"`
	Statement     string `json:"statement"`
	Rows          *struct {
		Columns   []string   `json:"columns"`
		Values    [][]string `json:"values"`
		Truncated bool       `json:"truncated"`
	} `json:"rows"`
	Warnings []string `json:"warnings"`
	Error    string   `json:"error"`
}

// ask posts a question and prints the result. Returns the attempt id so a
// following /teach can reference it.
func ask(server, session, question string) string {
	body, _ := json.Marshal(map[string]string{
		"question":   question,
		"session_id": session,
	})

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(server+"/api/query", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return ""
	}
	defer resp.Body.Close()

	var a answer
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		printError("Failed to parse response: %v", err)
		return ""
	}
	printAnswer(&a)
	return a.AttemptID
}

func printAnswer(a *answer) {
	if a.Statement != "" {
		fmt.Printf("\033[36mSQL:\033[0m %s\n", a.Statement)
	}
	for _, w := range a.Warnings {
		fmt.Printf("\033[33mwarning: %s\033[0m\n", w)
	}
	if a.Error != "" {
		printError("%s", a.Error)
		if a.AttemptID != "" {
			fmt.Printf("Correct me with: /teach <what I got wrong>  (attempt %s)\n", a.AttemptID)
		}
		return
	}
	if a.Rows == nil {
		return
	}
	printTable(a.Rows.Columns, a.Rows.Values)
	if a.Rows.Truncated {
		fmt.Println("(result truncated)")
	}
}

func teach(server, text, attemptID string, supersede bool) string {
	body, _ := json.Marshal(map[string]interface{}{
		"text":       text,
		"source_id":  "mentor-cli",
		"attempt_id": attemptID,
		"supersede":  supersede,
	})

	client := &http.Client{Timeout: 180 * time.Second}
	resp, err := client.Post(server+"/api/feedback", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return attemptID
	}
	defer resp.Body.Close()

	var result struct {
		KnowledgeIDs []string `json:"knowledge_ids"`
		Retry        *answer  `json:"retry"`
		RetryError   string   `json:"retry_error"`
		Error        string   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		printError("Failed to parse response: %v", err)
		return attemptID
	}
	if result.Error != "" {
		printError("%s", result.Error)
		return attemptID
	}

	fmt.Printf("\033[32mLearned %d fact(s).\033[0m\n", len(result.KnowledgeIDs))
	if result.Retry != nil {
		fmt.Println("Retrying with the new knowledge:")
		result.Retry.Error = result.RetryError
		printAnswer(result.Retry)
		return result.Retry.AttemptID
	}
	return attemptID
}

func fetchKnowledge(server string) {
	resp, err := http.Get(server + "/api/knowledge")
	if err != nil {
		printError("Failed to fetch knowledge: %v", err)
		return
	}
	defer resp.Body.Close()

	var out struct {
		Count int `json:"count"`
		Items []struct {
			ID   string `json:"id"`
			Rule struct {
				Kind    string `json:"kind"`
				Subject string `json:"subject"`
				Object  string `json:"object"`
				Via     string `json:"via"`
				Column  string `json:"column"`
			} `json:"rule"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		printError("Failed to parse knowledge: %v", err)
		return
	}
	if out.Count == 0 {
		fmt.Println("No knowledge yet. Teach me with /teach.")
		return
	}
	fmt.Printf("Active knowledge (%d):\n", out.Count)
	for _, it := range out.Items {
		r := it.Rule
		detail := r.Object
		if r.Via != "" {
			detail += " via " + r.Via
		}
		if r.Column != "" {
			detail += " in " + r.Column
		}
		fmt.Printf("  [%s] %s -> %s\n", r.Kind, r.Subject, detail)
	}
}

func fetchSchema(server string) {
	resp, err := http.Get(server + "/api/schema")
	if err != nil {
		printError("Failed to fetch schema: %v", err)
		return
	}
	defer resp.Body.Close()

	var out struct {
		Tables []struct {
			Name    string `json:"name"`
			Columns []struct {
				Name string `json:"name"`
				Type string `json:"type"`
			} `json:"columns"`
		} `json:"tables"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		printError("Failed to parse schema: %v", err)
		return
	}
	for _, t := range out.Tables {
		fmt.Printf("\033[36m%s\033[0m\n", t.Name)
		for _, c := range t.Columns {
			fmt.Printf("  %s %s\n", c.Name, c.Type)
		}
	}
}

func printTable(columns []string, values [][]string) {
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for _, row := range values {
		for i, v := range row {
			if i < len(widths) && len(v) > widths[i] {
				widths[i] = len(v)
			}
		}
	}

	printRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], c)
		}
		fmt.Println("| " + strings.Join(parts, " | ") + " |")
	}

	printRow(columns)
	sep := make([]string, len(columns))
	for i := range sep {
		sep[i] = strings.Repeat("-", widths[i])
	}
	printRow(sep)
	for _, row := range values {
		printRow(row)
	}
	fmt.Printf("(%d rows)\n", len(values))
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
