package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheMichaelB/wikisync/internal/config"
	"github.com/TheMichaelB/wikisync/internal/services/wiki"
	"github.com/TheMichaelB/wikisync/internal/transport"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a BookStack API token for this wiki",
	Long: `Login asks for a BookStack API token and writes it to the .env file in the
wiki root as BOOKSTACK_TOKEN_ID and BOOKSTACK_TOKEN_SECRET. Tokens are
created under "API Tokens" in the BookStack user profile.`,
	Example: `  wikisync login
  wikisync login --token-id abc123 --no-verify`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var (
	loginTokenID string
	loginVerify  bool
)

var stdin = bufio.NewReader(os.Stdin)

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVar(&loginTokenID, "token-id", "",
		"Token ID (will prompt if not provided)")
	loginCmd.Flags().BoolVar(&loginVerify, "verify", true,
		"Check the token against the wiki before saving it")
}

func runLogin(cmd *cobra.Command, args []string) error {
	tokenID := loginTokenID
	if tokenID == "" {
		var err error
		if tokenID, err = promptLine("Token ID: "); err != nil {
			return fmt.Errorf("read token id: %w", err)
		}
	}

	tokenSecret, err := promptPassword("Token secret: ")
	if err != nil {
		return fmt.Errorf("read token secret: %w", err)
	}

	if tokenID == "" || tokenSecret == "" {
		return fmt.Errorf("token id and secret are both required")
	}

	if loginVerify {
		if err := verifyToken(cmd.Context(), tokenID, tokenSecret); err != nil {
			return err
		}
	}

	envPath := filepath.Join(wikiRoot(), cfg.Auth.EnvFile)
	if err := config.WriteCredentials(envPath, tokenID, tokenSecret); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"file":    envPath,
		})
	} else {
		printSuccess("Token saved to %s", envPath)
	}
	return nil
}

// verifyToken lists the books of the wiki with the new token.
func verifyToken(ctx context.Context, tokenID, tokenSecret string) error {
	baseURL := cfg.API.BaseURL
	if baseURL == "" && manifestPath != "" {
		c, err := openClient(false)
		if err != nil {
			return err
		}
		m, err := c.Manifest.Load()
		_ = c.Close()
		if err != nil {
			return fmt.Errorf("load manifest: %w", err)
		}
		baseURL = m.URL
	}
	if baseURL == "" {
		printWarning("No wiki URL known yet, saving the token without checking it")
		return nil
	}

	t := transport.NewTransport(&cfg.API, logger)
	defer t.Close()
	t.SetBaseURL(baseURL)
	t.SetCredentials(tokenID, tokenSecret)

	books, err := wiki.NewService(t, cfg.API.PageSize, logger).ListBooks(ctx)
	if err != nil {
		return fmt.Errorf("token rejected by %s: %w", baseURL, err)
	}

	if !jsonOutput {
		printInfo("Token accepted by %s (%d books visible)", baseURL, len(books))
	}
	return nil
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptLine(prompt)
	}

	fmt.Fprint(os.Stderr, prompt)

	// Read without echo
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}
