package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kadirbelkuyu/bdns/internal/domain/altroot"
	"github.com/kadirbelkuyu/bdns/internal/domain/resolution"
	"github.com/spf13/cobra"
)

func (a *app) newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <domain>...",
		Short: "Resolve domains through the resolution API",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _, err := a.newService()
			if err != nil {
				return err
			}
			return resolveAll(cmd.Context(), service, args, cmd.OutOrStdout())
		},
	}
}

func (a *app) newPACCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pac [domain]...",
		Short: "Resolve domains and print the resulting PAC script",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _, err := a.newService()
			if err != nil {
				return err
			}
			if err := resolveAll(cmd.Context(), service, args, io.Discard); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), service.CurrentScript())
			return nil
		},
	}
}

func resolveAll(ctx context.Context, service *resolution.Service, domains []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, d := range domains {
		domain, err := altroot.Normalize(d)
		if err != nil {
			return fmt.Errorf("%s: %w", d, err)
		}
		res, err := service.Lookup(ctx, domain)
		if err != nil {
			return err
		}
		switch res.Status {
		case resolution.StatusResolved:
			fmt.Fprintf(out, "%s: %s\n", domain, strings.Join(res.IPs, " "))
		case resolution.StatusNonExistent:
			fmt.Fprintf(out, "%s: non-existent\n", domain)
		default:
			fmt.Fprintf(out, "%s: unavailable (%v)\n", domain, res.Err)
		}
	}
	return nil
}
