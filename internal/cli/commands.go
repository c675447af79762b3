package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/liangyou/nodevm/internal/env"
	"github.com/liangyou/nodevm/internal/version"
	"github.com/liangyou/nodevm/pkg/models"
)

func (a *App) newInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install <version>",
		Short: "Install a Node.js version (exact, partial, latest or lts)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handleInstall(cmd.Context(), args[0])
		},
	}
}

func (a *App) newUninstallCommand() *cobra.Command {
	var latest, force bool
	cmd := &cobra.Command{
		Use:   "uninstall [version]",
		Short: "Remove an installed version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			}
			if token == "" && !latest {
				return errors.New("uninstall command requires a version or --latest")
			}
			return a.handleUninstall(cmd.Context(), token, latest, force)
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "remove the highest installed version")
	cmd.Flags().BoolVar(&force, "force", false, "remove the version even if it is the default")
	return cmd
}

func (a *App) newUseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use <version>",
		Short: "Print shell commands that switch the current session to an installed version",
		Long:  "Print shell commands that switch the current session to an installed version.\nRun it through eval, e.g. eval \"$(nvm use 20)\".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handleUse(cmd.Context(), args[0])
		},
	}
}

func (a *App) newUnuseCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "unuse",
		Aliases: []string{"stop"},
		Short:   "Print shell commands that drop the session version",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.handleUnuse()
		},
	}
}

func (a *App) newLinkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "link <version>",
		Short: "Point the default link at an installed version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handleLink(cmd.Context(), args[0])
		},
	}
}

func (a *App) newUnlinkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink",
		Short: "Remove the default link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.handleUnlink()
		},
	}
}

func (a *App) newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List installed versions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.handleList()
		},
	}
}

func (a *App) newRemoteListCommand() *cobra.Command {
	var ltsOnly bool
	cmd := &cobra.Command{
		Use:     "ls-remote",
		Aliases: []string{"list-remote"},
		Short:   "List versions available for this platform",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.handleRemote(cmd.Context(), ltsOnly)
		},
	}
	cmd.Flags().BoolVar(&ltsOnly, "lts", false, "only show LTS releases")
	return cmd
}

func (a *App) newCurrentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the active version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.handleCurrent()
		},
	}
}

func (a *App) newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove leftover staging directories and broken installs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.handleCleanup(cmd.Context())
		},
	}
}

func (a *App) newInitEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-env",
		Short: "Add the default link to PATH in the shell profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.handleInitEnv()
		},
	}
}

func (a *App) newUndoEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "undo-env",
		Short: "Remove the nvm block from the shell profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.handleUndoEnv()
		},
	}
}

func (a *App) handleInstall(ctx context.Context, input string) error {
	s := a.services
	if s.Resolver == nil || s.Installer == nil {
		return errors.New("install command is unavailable")
	}
	spec, err := version.ParseSpec(input)
	if err != nil {
		return err
	}
	target, err := s.Resolver.Resolve(ctx, spec, version.WithOnline())
	if err != nil {
		return err
	}
	if target.Installed() {
		fmt.Fprintf(a.out, "%s is already installed\n", target.Tag())
		return nil
	}
	a.logger.Info("installing", "version", target.Tag(), "url", target.DownloadURL)
	installed, err := s.Installer.Install(ctx, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Installed %s\n", installed.Tag())
	return nil
}

func (a *App) handleUninstall(ctx context.Context, token string, latest, force bool) error {
	s := a.services
	if s.Uninstaller == nil {
		return errors.New("uninstall command is unavailable")
	}
	spec, err := version.ParseUninstallSpec(token, latest)
	if err != nil {
		return err
	}
	removed, err := s.Uninstaller.Uninstall(ctx, spec, force)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Uninstalled %s\n", removed.Tag())
	if s.Lister == nil {
		return nil
	}
	versions, err := s.Lister.LocalVersions(a.session.Version)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Remaining versions:")
	if len(versions) == 0 {
		fmt.Fprintln(a.out, "  (none)")
		return nil
	}
	for _, v := range versions {
		fmt.Fprintf(a.out, "  %s\n", version.FormatLocalVersion(v))
	}
	return nil
}

func (a *App) handleUse(ctx context.Context, input string) error {
	s := a.services
	if s.Switcher == nil {
		return errors.New("use command is unavailable")
	}
	spec, err := version.ParseSpec(input)
	if err != nil {
		return err
	}
	shell, err := a.targetShell()
	if err != nil {
		return err
	}
	used, _, mutations, err := s.Switcher.Use(ctx, spec, a.session)
	if err != nil {
		return err
	}
	if err := a.writeScript(shell, mutations); err != nil {
		return err
	}
	fmt.Fprintf(a.errOut, "Now using node %s\n", used.Tag())
	return nil
}

func (a *App) handleUnuse() error {
	s := a.services
	if s.Switcher == nil {
		return errors.New("unuse command is unavailable")
	}
	shell, err := a.targetShell()
	if err != nil {
		return err
	}
	_, mutations, err := s.Switcher.Unuse(a.session)
	if err != nil {
		return err
	}
	return a.writeScript(shell, mutations)
}

func (a *App) handleLink(ctx context.Context, input string) error {
	s := a.services
	if s.Switcher == nil {
		return errors.New("link command is unavailable")
	}
	spec, err := version.ParseSpec(input)
	if err != nil {
		return err
	}
	linked, err := s.Switcher.Link(ctx, spec)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Default version is now %s\n", linked.Tag())
	return nil
}

func (a *App) handleUnlink() error {
	s := a.services
	if s.Switcher == nil {
		return errors.New("unlink command is unavailable")
	}
	if err := s.Switcher.Unlink(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Default link removed")
	return nil
}

func (a *App) handleList() error {
	s := a.services
	if s.Lister == nil {
		return errors.New("local listing is unavailable")
	}
	versions, err := s.Lister.LocalVersions(a.session.Version)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintln(a.out, "No versions installed.")
		return nil
	}
	fmt.Fprintln(a.out, a.styles.header.Render("Installed versions:"))
	for _, v := range versions {
		line := version.FormatLocalVersion(v)
		switch {
		case v.InSession:
			line = a.styles.session.Render(line)
		case v.IsDefault:
			line = a.styles.def.Render(line)
		}
		fmt.Fprintf(a.out, "  %s\n", line)
	}
	return nil
}

func (a *App) handleRemote(ctx context.Context, ltsOnly bool) error {
	s := a.services
	if s.Lister == nil {
		return errors.New("remote listing is unavailable")
	}
	idx, err := s.Lister.RemoteVersions(ctx)
	if err != nil {
		return err
	}
	versions := idx.Versions
	if ltsOnly {
		versions = filterLTS(versions)
	}
	if len(versions) == 0 {
		fmt.Fprintln(a.out, "No remote versions available.")
		return nil
	}
	if idx.Stale {
		note := fmt.Sprintf("Showing a cached catalog from %s (network unavailable)", humanize.Time(idx.FetchedAt))
		fmt.Fprintln(a.errOut, a.styles.warning.Render(note))
	}
	fmt.Fprintln(a.out, a.styles.header.Render("Remote versions:"))
	for _, v := range versions {
		line := version.FormatRemoteVersion(v)
		if v.Installed() {
			line = a.styles.def.Render(line)
		}
		fmt.Fprintf(a.out, "  %s\n", line)
	}
	return nil
}

func (a *App) handleCurrent() error {
	s := a.services
	if s.Lister == nil {
		return errors.New("current version query is unavailable")
	}
	current, err := s.Lister.CurrentVersion(a.session.Version)
	if err != nil {
		return err
	}
	if current == nil {
		fmt.Fprintln(a.out, "No active Node.js version.")
		return nil
	}
	source := "default"
	if current.InSession {
		source = "session"
	}
	fmt.Fprintf(a.out, "Current version: %s (%s)\n", version.FormatLocalVersion(*current), source)
	return nil
}

func (a *App) handleCleanup(ctx context.Context) error {
	s := a.services
	if s.Janitor == nil {
		return errors.New("cleanup command is unavailable")
	}
	report, err := s.Janitor.Clean(ctx)
	if err != nil {
		return err
	}
	if len(report.Removed) == 0 {
		fmt.Fprintln(a.out, "Nothing to clean.")
	} else {
		fmt.Fprintln(a.out, "Removed:")
		for _, path := range report.Removed {
			fmt.Fprintf(a.out, "  %s\n", path)
		}
	}
	if len(report.Retained) > 0 {
		fmt.Fprintln(a.out, a.styles.muted.Render(fmt.Sprintf("Retained %d in-use or recent entries.", len(report.Retained))))
	}
	return nil
}

func (a *App) handleInitEnv() error {
	s := a.services
	if s.Shell == nil {
		return errors.New("init-env command is unavailable")
	}
	path, err := s.Shell.ConfigureEnvironment()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated %s, open a new shell to pick up the default version\n", path)
	return nil
}

func (a *App) handleUndoEnv() error {
	s := a.services
	if s.Shell == nil {
		return errors.New("undo-env command is unavailable")
	}
	path, removed, err := s.Shell.UndoEnvironment()
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(a.out, "No nvm block found in %s\n", path)
		return nil
	}
	fmt.Fprintf(a.out, "Removed nvm block from %s\n", path)
	return nil
}

// targetShell 返回 --shell 指定的 shell，未指定时自动探测。
func (a *App) targetShell() (string, error) {
	if shell := strings.TrimSpace(a.shell); shell != "" {
		return shell, nil
	}
	if a.services.Shell == nil {
		return "", errors.New("cli: cannot detect shell, pass --shell")
	}
	return a.services.Shell.DetectShell()
}

func (a *App) writeScript(shell string, mutations []env.Mutation) error {
	script, err := env.Render(shell, mutations)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, script)
	return nil
}

func filterLTS(versions []models.Version) []models.Version {
	var out []models.Version
	for _, v := range versions {
		if v.IsLTS() {
			out = append(out, v)
		}
	}
	return out
}
