package cli

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/intake/internal/ingress"
	"github.com/roach88/intake/internal/submission"
	"github.com/roach88/intake/internal/voucher"
)

// VoucherOptions holds flags for the voucher commands.
type VoucherOptions struct {
	*RootOptions
	Purpose string
	Subject string
}

// IssuedVoucher is the output of voucher issue.
type IssuedVoucher struct {
	Voucher string `json:"voucher"`
	URL     string `json:"url,omitempty"`
}

func (v IssuedVoucher) String() string {
	if v.URL != "" {
		return v.URL
	}
	return v.Voucher
}

// InspectedVoucher is the output of voucher inspect.
type InspectedVoucher struct {
	Status    string         `json:"status"`
	Purpose   string         `json:"purpose,omitempty"`
	CreatedAt *time.Time     `json:"created_at,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (v InspectedVoucher) String() string {
	if v.CreatedAt == nil {
		return v.Status
	}
	s := fmt.Sprintf("%s\npurpose: %s\ncreated: %s", v.Status, v.Purpose, v.CreatedAt.Format(time.RFC3339))
	for _, key := range slices.Sorted(maps.Keys(v.Payload)) {
		s += fmt.Sprintf("\n%s: %v", key, v.Payload[key])
	}
	return s
}

// NewVoucherCommand creates the voucher command with its issue and
// inspect subcommands.
func NewVoucherCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VoucherOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "Issue or inspect signed vouchers",
	}

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a voucher",
		Long: `Issue a voucher signed with signing.voucher.

A database-snapshot voucher is printed as a download link when
external.authority is configured. A submission voucher starts a new
installation, or continues --subject.

Example:
  intake voucher issue --purpose database-snapshot
  intake voucher issue --purpose submission --subject 0190a5c4-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVoucherIssue(cmd, opts)
		},
	}
	issue.Flags().StringVar(&opts.Purpose, "purpose", string(voucher.PurposeDatabaseSnapshot), "voucher purpose (database-snapshot|submission)")
	issue.Flags().StringVar(&opts.Subject, "subject", "", "subject of a submission voucher")

	inspect := &cobra.Command{
		Use:           "inspect <voucher>",
		Short:         "Verify a voucher and show its contents",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVoucherInspect(cmd, opts, args[0])
		},
	}
	inspect.Flags().StringVar(&opts.Purpose, "purpose", string(voucher.PurposeDatabaseSnapshot), "expected purpose")

	cmd.AddCommand(issue, inspect)
	return cmd
}

func (o *VoucherOptions) codec(cmd *cobra.Command) (*voucher.Codec, time.Duration, string, bool, error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, 0, "", false, err
	}
	if err := cfg.RequireSigning(); err != nil {
		return nil, 0, "", false, WrapExitError(ExitCommandError, "missing configuration", err)
	}
	return voucher.NewCodec([]byte(cfg.Signing.Voucher)), cfg.Signing.TTL, cfg.External.Authority, cfg.External.Secure, nil
}

func runVoucherIssue(cmd *cobra.Command, opts *VoucherOptions) error {
	codec, _, authority, secure, err := opts.codec(cmd)
	if err != nil {
		return err
	}

	var issued IssuedVoucher
	switch voucher.Purpose(opts.Purpose) {
	case voucher.PurposeDatabaseSnapshot:
		v := voucher.Create(voucher.PurposeDatabaseSnapshot, codec.Now(), voucher.None{})
		if issued.Voucher, err = voucher.Serialize(codec, v); err != nil {
			return WrapExitError(ExitCommandError, "failed to seal voucher", err)
		}
		if authority != "" {
			in, err := ingress.New(authority, secure, codec)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid external authority", err)
			}
			if issued.URL, err = in.DatabaseSnapshotURL(v); err != nil {
				return WrapExitError(ExitCommandError, "failed to seal voucher", err)
			}
		}

	case voucher.PurposeSubmission:
		payload := submission.Payload{}
		if payload.ID, err = uuid.NewV7(); err != nil {
			return WrapExitError(ExitCommandError, "failed to generate id", err)
		}
		if opts.Subject != "" {
			if payload.Subject, err = uuid.Parse(opts.Subject); err != nil {
				return WrapExitError(ExitCommandError, "invalid subject", err)
			}
		} else if payload.Subject, err = uuid.NewV7(); err != nil {
			return WrapExitError(ExitCommandError, "failed to generate id", err)
		}
		v := voucher.Create(voucher.PurposeSubmission, codec.Now(), payload)
		if issued.Voucher, err = voucher.Serialize(codec, v); err != nil {
			return WrapExitError(ExitCommandError, "failed to seal voucher", err)
		}

	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown purpose %q", opts.Purpose))
	}

	return opts.formatter(cmd).Success(issued)
}

func runVoucherInspect(cmd *cobra.Command, opts *VoucherOptions, sealed string) error {
	codec, ttl, _, _, err := opts.codec(cmd)
	if err != nil {
		return err
	}

	v, err := voucher.Deserialize[map[string]any](codec, sealed, voucher.Purpose(opts.Purpose), ttl)
	result := InspectedVoucher{Status: "valid"}
	switch {
	case err == nil:
	case errors.Is(err, voucher.ErrExpired):
		result.Status = "expired"
	case errors.Is(err, voucher.ErrPurposeMismatch):
		result.Status = "purpose-mismatch"
	default:
		result.Status = "malformed"
	}
	if result.Status != "malformed" {
		result.Purpose = string(v.Purpose)
		result.CreatedAt = &v.CreatedAt
		result.Payload = v.Payload
	}

	out := opts.formatter(cmd)
	if err != nil {
		out.Error(CodeVoucher, "voucher is not valid", result)
		return WrapExitError(ExitFailure, "voucher is not valid", err)
	}
	return out.Success(result)
}
