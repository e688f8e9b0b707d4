package runtime

import (
	"context"
	"log/slog"
	"os"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"

	gc "github.com/joshsymonds/mailrules/internal/gmail"
)

// NewGmailClient authenticates with the gmailctl local credential store
// and wraps the resulting service in our narrow client interface. The
// granted scopes are whatever the cached token was issued with; fetch
// only reads, apply needs gmail.modify.
func NewGmailClient(ctx context.Context, cfgDir string) (gc.Client, error) {
	svc, err := (localcred.Provider{}).Service(ctx, cfgDir)
	if err != nil {
		return nil, err
	}
	return NewGoogleAPIClient(svc), nil
}

func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
