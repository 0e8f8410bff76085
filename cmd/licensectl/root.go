package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ampos-license-server/internal/domain"
	"ampos-license-server/pkg/client"
	"ampos-license-server/pkg/hash"
	"ampos-license-server/pkg/logger"

	"github.com/spf13/cobra"
)

type options struct {
	portal   string
	secret   string
	key      string
	timeout  time.Duration
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "licensectl",
		Short:         "Verify and inspect AMPOS licenses against a license portal",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(logger.Config{Level: opts.logLevel})
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.portal, "portal", envOr("AMPOS_PORTAL_URL", "http://localhost:8080"), "license portal base URL")
	flags.StringVar(&opts.secret, "secret", os.Getenv("LICENSE_ENCRYPTION_KEY"), "shared envelope secret")
	flags.StringVar(&opts.key, "key", os.Getenv("AMPOS_LICENSE_KEY"), "application license key")
	flags.DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "request timeout")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	cmd.AddCommand(
		newVerifyCmd(opts),
		newStatusCmd(opts),
		newFingerprintCmd(),
		newChecksumCmd(),
		newKeygenCmd(),
	)

	return cmd
}

func newVerifyCmd(opts *options) *cobra.Command {
	var req domain.VerifyLicenseRequest
	var files []string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run a direct verification and print the plaintext response",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := opts.secret
			if secret == "" {
				// the direct call is plaintext; the secret only satisfies the client constructor
				secret = "unused"
			}

			c, err := client.New(opts.portal, secret, opts.timeout)
			if err != nil {
				return err
			}

			req.LicenseKey = opts.key
			if len(files) > 0 {
				sum, err := hash.Files(files)
				if err != nil {
					return err
				}
				req.Checksum = sum
			}
			if req.DeviceID == "" {
				req.DeviceID, req.Hostname, err = client.HostFingerprinter{}.Fingerprint()
				if err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			res, err := c.Verify(ctx, req)
			if err != nil {
				return err
			}

			if res.Valid() {
				return printJSON(cmd.OutOrStdout(), res.Success)
			}
			if err := printJSON(cmd.OutOrStdout(), res.Failure); err != nil {
				return err
			}
			return fmt.Errorf("license is not valid: %s", res.Failure.Error)
		},
	}

	cmd.Flags().StringVar(&req.DeviceID, "device-id", "", "device identifier (defaults to this host's fingerprint)")
	cmd.Flags().StringVar(&req.Hostname, "hostname", "", "hostname reported with --device-id")
	cmd.Flags().StringVar(&req.Version, "app-version", "1.0.0", "application version")
	cmd.Flags().StringSliceVar(&files, "checksum-file", nil, "files hashed into the code checksum")

	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	cfg := client.GuardConfig{}

	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"bind"},
		Short:   "Bind this installation and print the decrypted entitlement",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.secret == "" {
				return fmt.Errorf("--secret or LICENSE_ENCRYPTION_KEY is required")
			}

			cfg.BaseURL = opts.portal
			cfg.Secret = opts.secret
			cfg.LicenseKey = opts.key
			cfg.Timeout = opts.timeout

			guard, err := client.NewGuard(cfg)
			if err != nil {
				return err
			}

			e := guard.Check(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), statusView(guard, e)); err != nil {
				return err
			}

			if !guard.Allowed() {
				return fmt.Errorf("license does not allow this installation to run: %s", e.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.InstallationIDPath, "installation-file", defaultInstallationPath(), "where the installation ID is kept")
	cmd.Flags().StringVar(&cfg.InstallationID, "installation-id", "", "use this installation ID instead of the stored one")
	cmd.Flags().StringVar(&cfg.UserID, "user-id", "", "user reported with the check")
	cmd.Flags().StringVar(&cfg.AppVersion, "app-version", "1.0.0", "application version")
	cmd.Flags().StringSliceVar(&cfg.ChecksumFiles, "checksum-file", nil, "files hashed into the code checksum")
	cmd.Flags().StringVar(&cfg.BaselinePath, "baseline-file", "", "sealed per-file checksum record compared before binding")

	return cmd
}

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print this host's device ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, host, err := client.HostFingerprinter{}.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, host)
			return nil
		},
	}
}

func newChecksumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum FILE...",
		Short: "Print the code checksum of a set of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := hash.Files(args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	}
}

func newKeygenCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate license keys in the issued format",
		RunE: func(cmd *cobra.Command, args []string) error {
			for i := 0; i < count; i++ {
				key, err := generateKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of keys")
	return cmd
}

func generateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	digits := strings.ToUpper(hex.EncodeToString(buf))
	groups := make([]string, 0, 8)
	for i := 0; i < len(digits); i += 4 {
		groups = append(groups, digits[i:i+4])
	}

	return "AMPOS-" + strings.Join(groups, "-"), nil
}

type entitlementView struct {
	InstallationID string        `json:"installation_id"`
	Status         domain.Status `json:"status"`
	Allowed        bool          `json:"allowed"`
	Message        string        `json:"message"`
	Tier           string        `json:"tier"`
	MaxProducts    int           `json:"max_products"`
	MaxUsers       int           `json:"max_users"`
	Features       []string      `json:"features"`
	ProductName    string        `json:"product_name,omitempty"`
	ExpiresAt      string        `json:"expires_at,omitempty"`
	GracePeriodEnd string        `json:"grace_period_end,omitempty"`
	Tampered       string        `json:"tampered,omitempty"`
}

func statusView(g *client.Guard, e client.Entitlement) entitlementView {
	v := entitlementView{
		InstallationID: g.InstallationID(),
		Status:         e.Status,
		Allowed:        g.Allowed(),
		Message:        e.Message,
		Tier:           e.Tier,
		MaxProducts:    e.MaxProducts,
		MaxUsers:       e.MaxUsers,
		Features:       e.Features,
		ProductName:    e.ProductName,
		Tampered:       g.Tampered(),
	}
	if e.ExpiresAt != nil {
		v.ExpiresAt = e.ExpiresAt.Format(domain.TimestampLayout)
	}
	if e.GracePeriodEnd != nil {
		v.GracePeriodEnd = e.GracePeriodEnd.Format(domain.TimestampLayout)
	}
	return v
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultInstallationPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".ampos", "installation_id")
	}
	return filepath.Join(dir, "ampos", "installation_id")
}
