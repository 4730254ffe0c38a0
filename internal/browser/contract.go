package browser

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Contract pins the chat application's page structure the driver depends on.
// A UI revision on the application's side means shipping a new Contract.
type Contract struct {
	Version         string `yaml:"version" json:"version"`
	ConversationURL string `yaml:"conversationURL" json:"conversationURL"`
	AuthProbe       string `yaml:"authProbe" json:"authProbe"`       // exists only after login
	FileInput       string `yaml:"fileInput" json:"fileInput"`       // accepts the image
	PromptInput     string `yaml:"promptInput" json:"promptInput"`   // receives the prompt text
	SubmitButton    string `yaml:"submitButton" json:"submitButton"` // sends the prompt
	ReplyBlock      string `yaml:"replyBlock" json:"replyBlock"`     // one per rendered reply, last is current
}

// ChatGPTContract returns the locators for the ChatGPT web UI.
func ChatGPTContract() Contract {
	return Contract{
		Version:         "chatgpt-2025.05",
		ConversationURL: "https://chatgpt.com/",
		AuthProbe:       "textarea",
		FileInput:       "input[type='file']",
		PromptInput:     "#prompt-textarea p",
		SubmitButton:    "button[data-testid='send-button']",
		ReplyBlock:      "div.markdown.prose",
	}
}

// LoadContract reads a YAML contract file. Fields left out keep the ChatGPT defaults.
func LoadContract(path string) (Contract, error) {
	c := ChatGPTContract()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read contract %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse contract %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("contract %s: %w", path, err)
	}
	return c, nil
}

// Validate checks that every locator is set.
func (c Contract) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"conversationURL": c.ConversationURL,
		"authProbe":       c.AuthProbe,
		"fileInput":       c.FileInput,
		"promptInput":     c.PromptInput,
		"submitButton":    c.SubmitButton,
		"replyBlock":      c.ReplyBlock,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("missing locators: %s", strings.Join(missing, ", "))
	}
	return nil
}

// YAML renders the contract as a YAML document.
func (c Contract) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
