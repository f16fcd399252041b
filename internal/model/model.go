// Package model defines domain entities shared by the client core and the stub backend.
package model

import (
	"strings"
	"time"
)

// User is the identity attached to a session.
type User struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Metadata  map[string]any `json:"user_metadata,omitempty"`
}

// Session is a provider-issued authentication record. Values are never
// mutated after construction; a change always produces a new *Session.
type Session struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	TokenType     string    `json:"token_type,omitempty"`
	ProviderToken string    `json:"provider_token,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	User          User      `json:"user"`
}

// ExpiresWithin reports whether the access token expires before now+d.
// A zero ExpiresAt means the expiry is unknown and is treated as not expiring.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(s.ExpiresAt)
}

// Provider is the AI provider family a credential belongs to.
type Provider string

// Known provider families. ProviderNone means no credential is stored.
const (
	ProviderNone    Provider = ""
	ProviderOpenAI  Provider = "OpenAI"
	ProviderGemini  Provider = "Gemini"
	ProviderUnknown Provider = "Unknown"
)

// Credential is the client-visible projection of a stored provider API key.
type Credential struct {
	Masked   string   `json:"masked"`   // masked form returned by the backend
	Provider Provider `json:"provider"` // derived from Masked
}

// ModelCapability is one selectable AI model.
type ModelCapability struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// ModelAuto lets the backend pick a model.
const ModelAuto = "auto"

// Task is one of the fixed analysis tasks.
type Task string

// Supported tasks.
const (
	TaskDebug         Task = "debug"
	TaskRefactor      Task = "refactor"
	TaskDebugRefactor Task = "debug-refactor"
	TaskPerformance   Task = "performance"
	TaskComments      Task = "comments"
)

var taskDescriptions = map[Task]string{
	TaskDebug:         "Find and fix errors",
	TaskRefactor:      "Improve Structure",
	TaskDebugRefactor: "Full cleanup",
	TaskPerformance:   "Optimize Speed",
	TaskComments:      "Add Comments",
}

// Tasks lists tasks in display order.
var Tasks = []Task{TaskDebug, TaskRefactor, TaskDebugRefactor, TaskPerformance, TaskComments}

// Description returns the human-readable text sent to the backend, or "" for an unknown task.
func (t Task) Description() string { return taskDescriptions[t] }

// Language is a target language identifier.
type Language string

// Supported languages.
const (
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangPython     Language = "python"
	LangPHP        Language = "php"
	LangHTML       Language = "html"
	LangCSS        Language = "css"
	LangJava       Language = "java"
	LangCSharp     Language = "csharp"
	LangGo         Language = "go"
	LangRust       Language = "rust"
)

// Languages lists supported languages in display order.
var Languages = []Language{
	LangJavaScript, LangTypeScript, LangPython, LangPHP, LangHTML,
	LangCSS, LangJava, LangCSharp, LangGo, LangRust,
}

// Valid reports whether l is one of Languages.
func (l Language) Valid() bool {
	for _, v := range Languages {
		if v == l {
			return true
		}
	}
	return false
}

// ParseLanguage normalizes user input ("Go", " rust ") to a Language.
func ParseLanguage(s string) (Language, bool) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	return l, l.Valid()
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Code            string   `json:"code"`
	TaskDescription string   `json:"task_description"`
	Model           string   `json:"model"`
	Language        Language `json:"language"`
}

// Explanation is one change reported by the analysis service.
type Explanation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// AnalyzeResponse carries corrected code and explanations in service order.
type AnalyzeResponse struct {
	Code         string        `json:"code"`
	Explanations []Explanation `json:"explanations"`
}
