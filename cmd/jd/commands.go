package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/and161185/juniordebug/internal/analyze"
	"github.com/and161185/juniordebug/internal/app"
	"github.com/and161185/juniordebug/internal/model"
	"github.com/and161185/juniordebug/internal/redirect"
	"github.com/and161185/juniordebug/internal/session"
)

// passwordFlag reads the password from the flag or $JD_PASSWORD.
func passwordFlag(v string) string {
	if v != "" {
		return v
	}
	return os.Getenv("JD_PASSWORD")
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jd %s (%s)\n", version, buildDate)
		},
	}
}

func resultErr(res session.Result) error {
	if res.OK {
		return nil
	}
	return errors.New(res.Message)
}

func signUpCmd(r *runner) *cobra.Command {
	var email, password, confirm string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			pw := passwordFlag(password)
			if confirm == "" {
				confirm = pw
			}
			res := a.Session.SignUp(cmd.Context(), email, pw, confirm)
			if err := resultErr(res); err != nil {
				return err
			}
			if res.Session == nil {
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed up as %s\n", res.Session.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (default $JD_PASSWORD)")
	cmd.Flags().StringVar(&confirm, "confirm", "", "password confirmation (default: same as --password)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func signInCmd(r *runner) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			res := a.Session.SignIn(cmd.Context(), email, passwordFlag(password))
			if err := resultErr(res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", res.Session.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (default $JD_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func signOutCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			if err := a.Session.SignOut(cmd.Context()); err != nil {
				// the local session is gone either way
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: remote sign-out failed: %v\n", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func whoamiCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			u := a.Session.User()
			switch {
			case r.asJSON:
				printJSON(cmd.OutOrStdout(), u)
			case u == nil:
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", u.Email, u.ID)
			}
			return nil
		},
	}
}

func callbackCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "callback <url>",
		Short: "Complete sign-in from a magic-link or OAuth return URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("parse url: %w", err)
			}
			if !redirect.IsCallback(u) {
				return errors.New("not an auth callback URL")
			}
			a, err := r.open(cmd.Context(), app.Options{Location: u})
			if err != nil {
				return err
			}
			user := a.Session.User()
			if user == nil {
				return errors.New("callback was not accepted, request a new link")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user.Email)
			return nil
		},
	}
}

func keyCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage your AI provider API key",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the saved key (masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			cred, ok := a.Vault.Load(cmd.Context())
			switch {
			case r.asJSON:
				printJSON(cmd.OutOrStdout(), map[string]any{"saved": ok, "masked": cred.Masked, "provider": cred.Provider})
			case !ok:
				fmt.Fprintln(cmd.OutOrStdout(), "No API key saved")
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", cred.Masked, providerLabel(cred.Provider))
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key|->",
		Short: "Save a key; use - to read it from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[0]
			if raw == "-" {
				b, err := readAll(cmd, "-")
				if err != nil {
					return err
				}
				raw = string(b)
			}
			a, err := r.open(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			st := a.Vault.Save(cmd.Context(), raw)
			if st.Err != nil {
				return errors.New(st.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", st.Status, st.Masked, providerLabel(st.Provider))
			return nil
		},
	}

	del := &cobra.Command{
		Use:     "delete",
		Aliases: []string{"rm"},
		Short:   "Delete the saved key",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			st := a.Vault.Delete(cmd.Context())
			if st.Err != nil {
				return errors.New(st.Status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.Status)
			return nil
		},
	}

	cmd.AddCommand(get, set, del)
	return cmd
}

func providerLabel(p model.Provider) string {
	if p == model.ProviderNone {
		return "no provider"
	}
	return string(p)
}

func modelsCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models available with your key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			models := a.Models.Resolve(cmd.Context())
			if r.asJSON {
				printJSON(cmd.OutOrStdout(), models)
				return nil
			}
			for _, m := range models {
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s %-14s %s\n", m.ID, m.Label, m.Description)
			}
			return nil
		},
	}
}

func analyzeCmd(r *runner) *cobra.Command {
	var task, modelID, lang string
	cmd := &cobra.Command{
		Use:   "analyze [file|-]",
		Short: "Send code for analysis",
		Long: `Send a source file (or stdin) for analysis and print the corrected
code followed by the explanations, in the order the backend returned them.

Tasks: debug, refactor, debug-refactor, performance, comments.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			code, err := readAll(cmd, src)
			if err != nil {
				return err
			}
			// unknown languages are rejected by Submit
			l, _ := model.ParseLanguage(lang)
			in := analyze.Input{Code: string(code), Task: model.Task(task), Model: modelID, Language: l}

			a, err := r.open(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			resp, err := a.Analyzer.Submit(cmd.Context(), in)
			if err != nil {
				return errors.New(analyze.UserMessage(err))
			}
			if r.asJSON {
				printJSON(cmd.OutOrStdout(), resp)
				return nil
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Code)
			fmt.Fprintln(out)
			fmt.Fprintln(out, a.Analyzer.State().Confirmation)
			for i, e := range resp.Explanations {
				fmt.Fprintf(out, "%d. %s\n   %s\n", i+1, e.Title, e.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&task, "task", "t", string(analyze.DefaultTask), "analysis task")
	cmd.Flags().StringVarP(&modelID, "model", "m", model.ModelAuto, "model id, see 'jd models'")
	cmd.Flags().StringVarP(&lang, "lang", "l", string(analyze.DefaultLanguage), "source language")
	return cmd
}

func statusCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show account, saved key and available models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			snap, err := a.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if r.asJSON {
				printJSON(cmd.OutOrStdout(), snap)
				return nil
			}
			printSnapshot(cmd, snap)
			return nil
		},
	}
}

func printSnapshot(cmd *cobra.Command, snap app.Snapshot) {
	out := cmd.OutOrStdout()
	if snap.User == nil {
		fmt.Fprintln(out, "user:     (anonymous)")
	} else {
		fmt.Fprintf(out, "user:     %s\n", snap.User.Email)
	}
	if snap.HasKey {
		fmt.Fprintf(out, "key:      %s (%s)\n", snap.Credential.Masked, providerLabel(snap.Credential.Provider))
	} else {
		fmt.Fprintln(out, "key:      none")
	}
	ids := make([]string, 0, len(snap.Models))
	for _, m := range snap.Models {
		ids = append(ids, m.ID)
	}
	fmt.Fprintf(out, "models:   %s\n", strings.Join(ids, ", "))
}

func watchCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print session changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := r.open(ctx, app.Options{Watch: true})
			if err != nil {
				return err
			}
			changes, cancel := a.Session.Subscribe()
			defer cancel()

			out := cmd.OutOrStdout()
			refresh := func() {
				if snap, err := a.Refresh(ctx); err == nil {
					printSnapshot(cmd, snap)
				}
			}
			refresh()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ch, ok := <-changes:
					if !ok {
						return nil
					}
					who := "(anonymous)"
					if ch.Session != nil {
						who = ch.Session.User.Email
					}
					fmt.Fprintf(out, "%s %s\n", ch.Event, who)
					refresh()
				}
			}
		},
	}
}
