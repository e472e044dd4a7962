// Package language holds the supported language catalog and builds the
// interpreter instructions sent to the remote service.
package language

import (
	"bytes"
	"fmt"
	"text/template"
)

// Language is one selectable language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

var catalog = []Language{
	{Code: "en", Name: "English", Flag: "🇺🇸"},
	{Code: "th", Name: "Thai", Flag: "🇹🇭"},
	{Code: "es", Name: "Spanish", Flag: "🇪🇸"},
	{Code: "fr", Name: "French", Flag: "🇫🇷"},
	{Code: "de", Name: "German", Flag: "🇩🇪"},
	{Code: "jp", Name: "Japanese", Flag: "🇯🇵"},
	{Code: "zh", Name: "Chinese", Flag: "🇨🇳"},
	{Code: "ko", Name: "Korean", Flag: "🇰🇷"},
	{Code: "it", Name: "Italian", Flag: "🇮🇹"},
	{Code: "pt", Name: "Portuguese", Flag: "🇵🇹"},
	{Code: "hi", Name: "Hindi", Flag: "🇮🇳"},
	{Code: "ar", Name: "Arabic", Flag: "🇸🇦"},
}

// All returns the supported languages in display order.
func All() []Language {
	return append([]Language(nil), catalog...)
}

// Lookup finds a language by code.
func Lookup(code string) (Language, bool) {
	for _, l := range catalog {
		if l.Code == code {
			return l, true
		}
	}
	return Language{}, false
}

var instructionTemplate = template.Must(template.New("instructions").Parse(
	`You are a real-time interpreter between a {{.User.Name}} speaker (the user) and a {{.Guest.Name}} speaker (the guest).

Rules:
1. When you hear {{.User.Name}}, translate it into {{.Guest.Name}}. Begin the transcript of your reply with {{.GuestTag}}.
2. When you hear {{.Guest.Name}}, translate it into {{.User.Name}}. Begin the transcript of your reply with {{.UserTag}}.
3. Always emit exactly one tag at the start of every translated utterance and never speak the tag aloud.
4. Only translate. Do not answer questions, add commentary or hold a conversation.
5. Keep the tone and register of the speaker.`))

// InstructionParams feeds the instruction template.
type InstructionParams struct {
	User     Language
	Guest    Language
	UserTag  string
	GuestTag string
}

// Instructions builds the system instructions for a session between userCode
// and guestCode. Text tagged with userTag is shown to the user and text tagged
// with guestTag to the guest.
func Instructions(userCode, guestCode, userTag, guestTag string) (string, error) {
	user, ok := Lookup(userCode)
	if !ok {
		return "", fmt.Errorf("unsupported language %q", userCode)
	}
	guest, ok := Lookup(guestCode)
	if !ok {
		return "", fmt.Errorf("unsupported language %q", guestCode)
	}

	var buf bytes.Buffer
	err := instructionTemplate.Execute(&buf, InstructionParams{
		User:     user,
		Guest:    guest,
		UserTag:  userTag,
		GuestTag: guestTag,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render instructions: %w", err)
	}

	return buf.String(), nil
}
