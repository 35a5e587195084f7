package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vexscan/api/internal/config"
	"github.com/vexscan/api/pkg/jwt"
)

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Mint an access token signed with the server's JWT secret",
	Long: `Mint a bearer token for USER_ID using the auth settings of the server
configuration. Intended for local development and scripted tests: anyone
holding the secret can act as any user.`,
	Example: `  export VEXSCAN_TOKEN=$(vexctl token 6c1f... --email dev@example.com -o json | jq -r .token)`,
	Args:    cobra.ExactArgs(1),
	RunE:    runToken,
}

func init() {
	tokenCmd.Flags().String("email", "", "Email claim")
	tokenCmd.Flags().String("name", "", "Name claim")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default: server setting)")
}

type tokenOutput struct {
	Token     string    `json:"token" yaml:"token"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is not set")
	}

	ttl := cfg.Auth.TokenTTL
	if v, _ := cmd.Flags().GetDuration("ttl"); v > 0 {
		ttl = v
	}
	email, _ := cmd.Flags().GetString("email")
	name, _ := cmd.Flags().GetString("name")

	gen := jwt.NewGenerator(jwt.TokenConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.JWTIssuer,
		Audience: cfg.Auth.Audience,
		TTL:      ttl,
	})
	token, exp, err := gen.Generate(args[0], email, name)
	if err != nil {
		return err
	}

	out := tokenOutput{Token: token, ExpiresAt: exp}
	return render(out, func() {
		fmt.Fprintln(stdout, token)
	})
}
