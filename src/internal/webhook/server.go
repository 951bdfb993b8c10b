// Package webhook runs the HTTP listener that lets a git provider trigger
// backups on push and ref-deletion events. Requests are authenticated with
// an HMAC-SHA256 signature over the raw body before anything is parsed.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/casapps/casbackup/src/internal/config"
	"github.com/casapps/casbackup/src/internal/logging"
	"github.com/casapps/casbackup/src/internal/validate"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, prefixed
// with "sha256=", computed with the shared webhook secret.
const SignatureHeader = "X-Hub-Signature-256"

// EventHeader names the provider event, e.g. "push" or "delete".
const EventHeader = "X-GitHub-Event"

const maxBodySize = 1 << 20 // 1MB

// Runner executes one backup transaction. Satisfied by backup.Manager.
type Runner interface {
	Backup(ctx context.Context, acc config.Account, repo, event string) error
}

// pushPayload is the subset of a push event body we act on.
type pushPayload struct {
	Forced  bool   `json:"forced"`
	Deleted bool   `json:"deleted"`
	RefType string `json:"ref_type"`
}

type job struct {
	account config.Account
	repo    string
	event   string
}

// Server accepts provider webhooks and queues backup runs.
type Server struct {
	echo    *echo.Echo
	runner  Runner
	secret  string
	lookup  func(name string) (config.Account, bool)
	log     *logging.Logger
	queue   chan job
	workers int
}

// Options configures a webhook Server.
type Options struct {
	Runner  Runner
	Secret  string
	Lookup  func(name string) (config.Account, bool)
	Logger  *logging.Logger
	Workers int // concurrent backup workers, defaults to 1
	Queue   int // pending trigger capacity, defaults to 64
}

// NewServer builds the listener. The secret must be non-empty; an
// unauthenticated trigger endpoint would let anyone overwrite backup state.
func NewServer(opts Options) (*Server, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := opts.Queue
	if queueSize <= 0 {
		queueSize = 64
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	s := &Server{
		echo:    e,
		runner:  opts.Runner,
		secret:  opts.Secret,
		lookup:  opts.Lookup,
		log:     opts.Logger,
		queue:   make(chan job, queueSize),
		workers: workers,
	}

	e.POST("/hooks/:account/:repo", s.handleHook)
	e.GET("/healthz", s.handleHealth)
	return s, nil
}

// Start runs the listener on addr and the backup workers until ctx is
// cancelled. It blocks.
func (s *Server) Start(ctx context.Context, addr string) error {
	for i := 0; i < s.workers; i++ {
		go s.worker(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- s.echo.Start(addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	if !VerifySignature(s.secret, c.Request().Header.Get(SignatureHeader), body) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	account := c.Param("account")
	repo := c.Param("repo")
	if !validate.Account(account) || !validate.Repo(repo) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid account or repository name"})
	}

	acc, ok := s.lookup(account)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown account"})
	}

	event := deriveEvent(c.Request().Header.Get(EventHeader), body)

	select {
	case s.queue <- job{account: acc, repo: repo, event: event}:
		return c.JSON(http.StatusAccepted, map[string]string{"account": account, "repo": repo, "event": event})
	default:
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "trigger queue is full"})
	}
}

// deriveEvent maps a provider event to the backup event tag that drives
// snapshot policy. Anything unrecognized runs as a plain push backup.
func deriveEvent(providerEvent string, body []byte) string {
	var payload pushPayload
	// Signature already covered the body; a parse failure just means no
	// event refinement.
	_ = json.Unmarshal(body, &payload)

	switch providerEvent {
	case "push":
		if payload.Forced {
			return "force-push"
		}
		if payload.Deleted {
			return "branch-delete"
		}
		return "push"
	case "delete":
		if payload.RefType == "tag" {
			return "tag-delete"
		}
		return "branch-delete"
	default:
		return "push"
	}
}

func (s *Server) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if err := s.runner.Backup(ctx, j.account, j.repo, j.event); err != nil {
				s.log.Error("webhook-triggered backup %s/%s failed: %v", j.account.Name, j.repo, err)
			}
		}
	}
}

// Sign computes the signature header value for a payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature in constant time.
func VerifySignature(secret, signature string, payload []byte) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(secret, payload)))
}
