package domain

import "context"

// ChatPage is the narrow contract between the pipeline and the chat
// application's user interface. All page locators live behind it.
type ChatPage interface {
	// IsAuthenticated probes for an element that only exists after login.
	// A missing element or a failed probe both report false.
	IsAuthenticated(ctx context.Context) bool
	// AttachFile waits for the file-input control and hands it a local file.
	AttachFile(ctx context.Context, path string) error
	// SetPrompt writes text into the prompt surface and notifies the page.
	SetPrompt(ctx context.Context, text string) error
	// Submit waits for the submit control to become interactable and clicks it.
	Submit(ctx context.Context) error
	// LatestReply returns the trimmed text of the most recent reply block.
	LatestReply(ctx context.Context) (string, error)
}

// Session is one attached browser tab, owned by a single request.
type Session interface {
	ChatPage
	Close()
}

// Attacher opens a Session against an already-running browser.
type Attacher interface {
	Attach(ctx context.Context) (Session, error)
}
