package commands

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/petal-labs/carelink/core"
)

func (a *App) newLoginCommand() *cobra.Command {
	var access, refresh string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a session token pair",
		Long: `Store an access and refresh token pair in the configured token store.

Tokens missing from the flags are read from stdin. Input is hidden when
stdin is a terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.tokens()
			if err != nil {
				return err
			}

			in := bufio.NewReader(a.stdin)
			if access == "" {
				if access, err = a.promptSecret(in, "Access token: "); err != nil {
					return exitWithCode(ExitValidation, err)
				}
			}
			if refresh == "" {
				if refresh, err = a.promptSecret(in, "Refresh token: "); err != nil {
					return exitWithCode(ExitValidation, err)
				}
			}

			pair := core.TokenPair{Access: core.NewSecret(access), Refresh: core.NewSecret(refresh)}
			if !pair.Complete() {
				return exitWithCode(ExitValidation, errors.New("both an access and a refresh token are required"))
			}
			if err := core.SaveTokens(cmd.Context(), store, pair); err != nil {
				return a.fail(fmt.Errorf("save tokens: %w", err))
			}

			fmt.Fprintln(a.stdout, "Tokens stored.")
			return nil
		},
	}

	cmd.Flags().StringVar(&access, "access", "", "access token")
	cmd.Flags().StringVar(&refresh, "refresh", "", "refresh token")
	return cmd
}

// promptSecret prints prompt on stderr and reads one token.
func (a *App) promptSecret(in *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(a.stderr, prompt)

	b, hidden, err := a.readPassword(a.stdin)
	if hidden {
		// Newline after hidden input
		fmt.Fprintln(a.stderr)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (a *App) newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored session tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.tokens()
			if err != nil {
				return err
			}
			if err := core.ClearTokens(cmd.Context(), store); err != nil {
				return a.fail(fmt.Errorf("clear tokens: %w", err))
			}
			fmt.Fprintln(a.stdout, "Logged out.")
			return nil
		},
	}
}

// tokenInfo describes a stored token without revealing it.
type tokenInfo struct {
	Kind      string     `json:"kind"`
	Present   bool       `json:"present"`
	Format    string     `json:"format,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	Issuer    string     `json:"issuer,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired,omitempty"`
}

func (a *App) newTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show the stored session tokens",
		Long: `Show the claims of the stored tokens. Signatures are not verified
and the tokens themselves are never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.tokens()
			if err != nil {
				return err
			}

			access, err := store.AccessToken(cmd.Context())
			if err != nil {
				return a.fail(fmt.Errorf("read access token: %w", err))
			}
			refresh, err := store.RefreshToken(cmd.Context())
			if err != nil {
				return a.fail(fmt.Errorf("read refresh token: %w", err))
			}

			now := time.Now()
			infos := []tokenInfo{
				inspectToken("access", access, now),
				inspectToken("refresh", refresh, now),
			}

			if a.jsonOutput {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			for _, info := range infos {
				a.printTokenInfo(info)
			}
			return nil
		},
	}
}

// inspectToken decodes token claims without verifying the signature.
func inspectToken(kind, token string, now time.Time) tokenInfo {
	info := tokenInfo{Kind: kind, Present: token != ""}
	if token == "" {
		return info
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		info.Format = "opaque"
		return info
	}
	info.Format = "jwt"
	info.Subject = claims.Subject
	info.Issuer = claims.Issuer
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		info.ExpiresAt = &exp
		info.Expired = !exp.After(now)
	}
	return info
}

func (a *App) printTokenInfo(info tokenInfo) {
	if !info.Present {
		fmt.Fprintf(a.stdout, "%s token: not set\n", info.Kind)
		return
	}
	fmt.Fprintf(a.stdout, "%s token: %s\n", info.Kind, info.Format)
	if info.Subject != "" {
		fmt.Fprintf(a.stdout, "  subject: %s\n", info.Subject)
	}
	if info.Issuer != "" {
		fmt.Fprintf(a.stdout, "  issuer:  %s\n", info.Issuer)
	}
	if info.ExpiresAt != nil {
		state := "valid"
		if info.Expired {
			state = "expired"
		}
		fmt.Fprintf(a.stdout, "  expires: %s (%s)\n", info.ExpiresAt.Format(time.RFC3339), state)
	}
}
