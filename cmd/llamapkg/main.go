package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/frederic-klein/llamapkg/internal/auth"
	"github.com/frederic-klein/llamapkg/internal/model"
	"github.com/frederic-klein/llamapkg/internal/requirements"
	"github.com/frederic-klein/llamapkg/internal/resolver"
	"github.com/frederic-klein/llamapkg/internal/server"
)

type cli struct {
	configPath string
	verbose    bool

	requirementsFile string
	installDir       string
	ignoreInstalled  bool
	token            string
	listenAddr       string
	user             string
	ttl              time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:          "llamapkg",
		Short:        "llamapkg - a package registry and dependency resolver",
		Long:         "llamapkg publishes packages to a registry, resolves their dependencies and installs them.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default ~/.llamapkg/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Verbose output")

	resolveCmd := &cobra.Command{
		Use:   "resolve [requirement...]",
		Short: "Print the versions that install would choose",
		RunE:  c.runResolve,
	}
	resolveCmd.Flags().StringVarP(&c.requirementsFile, "file", "f", "", "Requirements file")
	resolveCmd.Flags().BoolVar(&c.ignoreInstalled, "ignore-installed", false, "Resolve as if nothing were installed")
	resolveCmd.Flags().StringVar(&c.installDir, "dir", "", "Install directory (default from config)")

	installCmd := &cobra.Command{
		Use:   "install [requirement...]",
		Short: "Resolve and install packages",
		RunE:  c.runInstall,
	}
	installCmd.Flags().StringVarP(&c.requirementsFile, "file", "f", "", "Requirements file")
	installCmd.Flags().StringVar(&c.installDir, "dir", "", "Install directory (default from config)")

	publishCmd := &cobra.Command{
		Use:   "publish <path>",
		Short: "Publish a package directory or archive",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runPublish,
	}
	publishCmd.Flags().StringVar(&c.token, "token", "", "API token (default from config)")

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search packages by name, description and keywords",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runSearch,
	}

	infoCmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show a package and its versions",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runInfo,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every package in the registry",
		Args:  cobra.NoArgs,
		RunE:  c.runList,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry HTTP API",
		Args:  cobra.NoArgs,
		RunE:  c.runServe,
	}
	serveCmd.Flags().StringVar(&c.listenAddr, "addr", "", "Listen address (default from config)")

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage publish tokens",
	}
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a publish token for a user",
		Args:  cobra.NoArgs,
		RunE:  c.runTokenIssue,
	}
	issueCmd.Flags().StringVar(&c.user, "user", "", "User name")
	issueCmd.Flags().DurationVar(&c.ttl, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	_ = issueCmd.MarkFlagRequired("user")
	tokenCmd.AddCommand(issueCmd)

	rootCmd.AddCommand(resolveCmd, installCmd, publishCmd, searchCmd, infoCmd, listCmd, serveCmd, tokenCmd)
	return rootCmd
}

func (c *cli) app(cmd *cobra.Command, runtime bool) (*app, error) {
	return newApp(appOptions{
		configPath: c.configPath,
		verbose:    c.verbose,
		installDir: c.installDir,
		runtime:    runtime,
		logOutput:  cmd.ErrOrStderr(),
	})
}

// roots reads requirements from arguments, the -f file, or the default
// requirements file, in that order of preference.
func (c *cli) roots(args []string) ([]model.Requirement, error) {
	if len(args) > 0 {
		return requirements.ParseArgs(args)
	}
	path := c.requirementsFile
	if path == "" {
		path = requirements.DefaultFile
	}
	reqs, err := requirements.NewParser().ParseFile(path)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("no requirements found in %s", path)
	}
	return reqs, nil
}

func (c *cli) runResolve(cmd *cobra.Command, args []string) error {
	roots, err := c.roots(args)
	if err != nil {
		return err
	}
	a, err := c.app(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var installed map[string]string
	if c.ignoreInstalled {
		installed = map[string]string{}
	}
	res, err := a.resolver.Resolve(cmd.Context(), roots, installed)
	if err != nil {
		return explain(err)
	}
	printResolution(cmd.OutOrStdout(), res)
	return nil
}

func (c *cli) runInstall(cmd *cobra.Command, args []string) error {
	roots, err := c.roots(args)
	if err != nil {
		return err
	}
	a, err := c.app(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.installer.Install(cmd.Context(), roots, nil)
	if err != nil {
		if len(res) > 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "Attempted before failure:")
			printResolution(cmd.ErrOrStderr(), res)
		}
		return explain(err)
	}
	if len(res) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "All requirements already installed")
		return nil
	}
	printResolution(cmd.OutOrStdout(), res)
	fmt.Fprintf(cmd.OutOrStdout(), "Installed %d packages into %s\n", len(res), a.installer.InstallDir())
	return nil
}

func (c *cli) runPublish(cmd *cobra.Command, args []string) error {
	a, err := c.app(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	token := c.token
	if token == "" {
		token = a.cfg.APIToken
	}
	pv, err := a.installer.Publish(cmd.Context(), args[0], token)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Published %s (%s)\n", pv.Version, pv.DownloadURL)
	return nil
}

func (c *cli) runSearch(cmd *cobra.Command, args []string) error {
	a, err := c.app(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	printPackages(cmd.OutOrStdout(), a.registry.Search(cmd.Context(), args[0]))
	return nil
}

func (c *cli) runList(cmd *cobra.Command, args []string) error {
	a, err := c.app(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	printPackages(cmd.OutOrStdout(), a.registry.List(cmd.Context()))
	return nil
}

func (c *cli) runInfo(cmd *cobra.Command, args []string) error {
	a, err := c.app(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	pkg, ok := a.registry.Get(cmd.Context(), args[0])
	if !ok {
		return fmt.Errorf("package %s not found", args[0])
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:        %s\n", pkg.Name)
	if pkg.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", pkg.Description)
	}
	if pkg.Author != "" {
		fmt.Fprintf(out, "Author:      %s\n", pkg.Author)
	}
	if pkg.License != "" {
		fmt.Fprintf(out, "License:     %s\n", pkg.License)
	}
	if pkg.Homepage != "" {
		fmt.Fprintf(out, "Homepage:    %s\n", pkg.Homepage)
	}
	if len(pkg.Keywords) > 0 {
		fmt.Fprintf(out, "Keywords:    %s\n", strings.Join(pkg.Keywords, ", "))
	}
	fmt.Fprintln(out, "Versions:")
	for _, v := range pkg.SortedVersions() {
		pv, _ := pkg.Get(v)
		fmt.Fprintf(out, "  %s  %s\n", v, pv.UploadedAt.Format(time.DateOnly))
		for _, dep := range sortedDeps(pv.Dependencies) {
			fmt.Fprintf(out, "    requires %s %s\n", dep, pv.Dependencies[dep])
		}
	}
	return nil
}

func (c *cli) runServe(cmd *cobra.Command, args []string) error {
	a, err := c.app(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := c.listenAddr
	if addr == "" {
		addr = a.cfg.ListenAddr
	}
	a.registry.Load(cmd.Context())
	srv := server.New(a.registry, a.resolver,
		server.WithMetrics(a.metrics),
		server.WithLogger(a.logger),
		server.WithBaseURL(a.cfg.RegistryURL),
	)
	return srv.ListenAndServe(cmd.Context(), addr)
}

func (c *cli) runTokenIssue(cmd *cobra.Command, args []string) error {
	a, err := c.app(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := a.authority.IssueToken(c.user, c.ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// explain adds the requirer list to conflict errors.
func explain(err error) error {
	var ce *resolver.ConflictError
	if !errors.As(err, &ce) {
		return err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "cannot resolve %s:", ce.Package)
	for _, req := range sortedDeps(ce.Requirers) {
		c := ce.Requirers[req]
		if c == "" {
			c = "any version"
		}
		fmt.Fprintf(&sb, "\n  %s requires %s %s", req, ce.Package, c)
	}
	return errors.New(sb.String())
}

func printResolution(w io.Writer, res resolver.Resolution) {
	for _, name := range res.Names() {
		fmt.Fprintf(w, "%s==%s\n", name, res[name])
	}
}

func printPackages(w io.Writer, pkgs []*model.Package) {
	if len(pkgs) == 0 {
		fmt.Fprintln(w, "No packages found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLATEST\tDESCRIPTION")
	for _, p := range pkgs {
		latest := "-"
		if pv, ok := p.Latest(); ok {
			latest = pv.Version.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, latest, p.Description)
	}
	tw.Flush()
}

func sortedDeps(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
