package assist

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"collabpad/handlers/auth"
	"collabpad/middleware"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Text-assistance proxy: forwards chat-completion requests from the editor
// (summarize, rewrite, continue writing) to an OpenAI-compatible backend.
// The proxy shares no state with the collaboration core.

var (
	apiKey  string
	baseURL string
)

func Init() {
	apiKey = os.Getenv("OPENAI_API_KEY")
	baseURL = os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if apiKey == "" {
		logrus.Warn("OPENAI_API_KEY environment variable not set. Text assistance will not work.")
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
	Name    string `json:"name,omitempty"`
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens *int          `json:"max_tokens,omitempty"`
	Stream    *bool         `json:"stream"`
}

// flusherWriter ensures streamed completion chunks reach the client as
// they arrive.
type flusherWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw *flusherWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}

func HandleChatCompletion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		if apiKey == "" {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Text assistance is not configured on the server"})
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to read request body"})
			return
		}
		defer r.Body.Close()

		var req chatCompletionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid JSON in request body"})
			return
		}

		proxyReq, err := http.NewRequestWithContext(r.Context(), "POST", baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create upstream request"})
			return
		}
		proxyReq.Header.Set("Authorization", "Bearer "+apiKey)
		proxyReq.Header.Set("Content-Type", "application/json")
		proxyReq.Header.Set("Accept", "application/json")

		client := &http.Client{Timeout: 5 * time.Minute}
		resp, err := client.Do(proxyReq)
		if err != nil {
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, map[string]string{"error": "Failed to communicate with assistance backend"})
			return
		}
		defer resp.Body.Close()

		if req.Stream != nil && *req.Stream {
			flusher, ok := w.(http.Flusher)
			if !ok {
				http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(resp.StatusCode)

			fw := &flusherWriter{w: w, f: flusher}
			if _, err := io.Copy(fw, resp.Body); err != nil {
				logrus.WithError(err).Warn("Error streaming assistance response")
			}
			return
		}

		for key, values := range resp.Header {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}
}
