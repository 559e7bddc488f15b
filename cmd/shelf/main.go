package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"shelf-go/internal/app"
	"shelf-go/internal/config"
	"shelf-go/internal/model"
	"shelf-go/internal/settings"
	"shelf-go/internal/shelf"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var verbose bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a ShelfApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "List", "Remove").
func newApp(ctx context.Context, operation string, args []string) (*app.ShelfApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewShelfApp(ctx, cfg, app.Options{
		ConfigPath: defaults["config_path"],
		Operation:  operation,
		Parameters: strings.Join(args, " "),
		Picker:     app.NewPromptPicker(os.Stdin, os.Stdout),
		Verbose:    verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// withApp runs fn against a connected app and records its outcome.
func withApp(cmd *cobra.Command, operation string, args []string, fn func(ctx context.Context, a *app.ShelfApp) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, operation, args)
	if err != nil {
		return err
	}
	defer a.Close()

	err = fn(ctx, a)
	a.Fail(err)
	if errors.Is(err, shelf.ErrNotConnected) {
		return fmt.Errorf("%w: run 'shelf select' to choose a library", err)
	}
	return err
}

var rootCmd = &cobra.Command{
	Use:          "shelf",
	Short:        "Personal book and movie tracker",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		identity, err := settings.GenerateIdentity(cfg.Settings.IdentityPath)
		if err != nil {
			return fmt.Errorf("failed to create settings key: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Settings key: %s (%s)\n", cfg.Settings.IdentityPath, identity.Recipient())
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Storage:   %s\n", cfg.Storage.Type)
		if cfg.Storage.Dir != "" {
			fmt.Printf("Directory: %s\n", cfg.Storage.Dir)
		}
		if cfg.Storage.RemoteConfigured() {
			fmt.Printf("Bucket:    %s\n", cfg.Storage.S3Bucket)
		}
		fmt.Printf("Cache:     %s %s\n", cfg.Cache.Type, cfg.Cache.Path)
		return nil
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List available storage backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Backends", args, func(ctx context.Context, a *app.ShelfApp) error {
			active := a.Info()
			for _, kind := range a.Backends() {
				marker := " "
				if kind == active.Kind && active.Connected {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, kind)
			}
			return nil
		})
	},
}

var selectCmd = &cobra.Command{
	Use:   "select [local|remote|memory]",
	Short: "Choose where the library is stored",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := shelf.BackendLocal
		if len(args) > 0 {
			kind = shelf.BackendKind(args[0])
		}
		return withApp(cmd, "Select", args, func(ctx context.Context, a *app.ShelfApp) error {
			ok, err := a.Select(ctx, kind)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Cancelled.")
				return nil
			}
			fmt.Printf("Using %s storage at %s\n", kind, a.Info().Location)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the library",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, _ := cmd.Flags().GetBool("tree")
		typeFilter, _ := cmd.Flags().GetString("type")

		return withApp(cmd, "List", args, func(ctx context.Context, a *app.ShelfApp) error {
			res, err := a.List(ctx, progressPrinter())
			if err != nil {
				return err
			}
			items := filterByType(res.Items, typeFilter)
			for _, f := range res.Failures {
				fmt.Fprintf(os.Stderr, "warning: %v\n", f)
			}

			if tree {
				fmt.Print(renderTree(a.Info(), items))
				return nil
			}
			if len(items) == 0 {
				fmt.Println("No items.")
				return nil
			}
			for _, it := range items {
				fmt.Println(formatItem(it))
			}
			return nil
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Add a book or movie",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := itemFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, "Add", args, func(ctx context.Context, a *app.ShelfApp) error {
			saved, err := a.Add(ctx, item)
			if err != nil {
				return err
			}
			fmt.Printf("Added %s\n", saved.Filename)
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm NAME...",
	Short: "Move items to the trash",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm(fmt.Sprintf("Move %d item(s) to the trash?", len(args)))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Cancelled.")
				return nil
			}
		}
		return withApp(cmd, "Remove", args, func(ctx context.Context, a *app.ShelfApp) error {
			for _, name := range args {
				rec, err := a.Remove(ctx, name)
				if err != nil {
					return err
				}
				fmt.Printf("Trashed %s as %s\n", rec.SourceName, rec.TrashName)
			}
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore TRASH_NAME",
	Short: "Restore an item from the trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		as, _ := cmd.Flags().GetString("as")
		return withApp(cmd, "Restore", args, func(ctx context.Context, a *app.ShelfApp) error {
			name, err := a.Restore(ctx, args[0], as)
			if err != nil {
				return err
			}
			fmt.Printf("Restored %s\n", name)
			return nil
		})
	},
}

var catCmd = &cobra.Command{
	Use:   "cat NAME",
	Short: "Print a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Cat", args, func(ctx context.Context, a *app.ShelfApp) error {
			data, err := a.Cat(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		})
	},
}

// settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View or change library settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "SettingsGet", args, func(ctx context.Context, a *app.ShelfApp) error {
			st, err := a.Settings(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("theme:    %s\n", st.Theme)
			fmt.Printf("cardSize: %s\n", st.CardSize)
			names := make([]string, 0, len(st.APIKeys))
			for name := range st.APIKeys {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("apiKeys.%s: %s\n", name, mask(st.APIKeys[name]))
			}
			return nil
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Change a setting (theme, cardSize, apiKeys.<name>)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "SettingsSet", args[:1], func(ctx context.Context, a *app.ShelfApp) error {
			if err := a.SetSetting(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Set %s\n", args[0])
			return nil
		})
	},
}

// cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the remote file cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop cached remote files",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		return withApp(cmd, "CacheClear", args, func(ctx context.Context, a *app.ShelfApp) error {
			if err := a.ClearCache(ctx, all); err != nil {
				return err
			}
			fmt.Println("Cache cleared.")
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reload the local library whenever it changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Watch", args, func(ctx context.Context, a *app.ShelfApp) error {
			fmt.Printf("Watching %s (Ctrl-C to stop)\n", a.Info().Location)
			return a.Watch(ctx, func(names []string, res *shelf.LoadResult, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
					return
				}
				fmt.Printf("%d changed, %d items, %d unreadable\n", len(names), len(res.Items), len(res.Failures))
			})
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the active storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Info", args, func(ctx context.Context, a *app.ShelfApp) error {
			info := a.Info()
			fmt.Printf("Storage:   %s\n", info.Kind)
			fmt.Printf("Location:  %s\n", info.Location)
			fmt.Printf("Connected: %v\n", info.Connected)
			if !info.Connected {
				return nil
			}
			if info.FolderID != "" {
				fmt.Printf("Folder ID: %s\n", info.FolderID)
			}
			trash, err := a.Trash(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Trash:     %d item(s)\n", len(trash))
			entries, size, err := a.CacheStats(ctx)
			if err != nil {
				return err
			}
			if info.Kind == shelf.BackendRemote {
				fmt.Printf("Cache:     %d file(s), %d bytes\n", entries, size)
			}
			return nil
		})
	},
}

// confirm asks a yes/no question on the terminal. Without a terminal it
// refuses, so scripts must pass --yes.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("not a terminal: pass --yes to confirm")
	}
	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func itemFromFlags(cmd *cobra.Command, title string) (*model.Item, error) {
	flags := cmd.Flags()
	itemType, _ := flags.GetString("type")
	status, _ := flags.GetString("status")
	author, _ := flags.GetString("author")
	director, _ := flags.GetString("director")
	actors, _ := flags.GetStringSlice("actors")
	isbn, _ := flags.GetString("isbn")
	year, _ := flags.GetInt("year")
	tags, _ := flags.GetStringSlice("tags")
	review, _ := flags.GetString("review")

	item := &model.Item{
		Title:    title,
		Type:     model.ItemType(itemType),
		Status:   status,
		Author:   author,
		Director: director,
		Actors:   actors,
		ISBN:     isbn,
		Year:     year,
		Tags:     tags,
		Review:   review,
	}
	if flags.Changed("rating") {
		r, _ := flags.GetFloat64("rating")
		item.Rating = model.Rating(r)
	}
	return item, nil
}

func mask(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	cacheCmd.AddCommand(cacheClearCmd)
	cacheClearCmd.Flags().Bool("all", false, "Clear every cached folder")

	listCmd.Flags().Bool("tree", false, "Group by type and status")
	listCmd.Flags().StringP("type", "t", "", "Only show book or movie")

	addCmd.Flags().StringP("type", "t", string(model.TypeBook), "book or movie")
	addCmd.Flags().StringP("status", "s", "", "Status (defaults by type)")
	addCmd.Flags().String("author", "", "Author")
	addCmd.Flags().String("director", "", "Director")
	addCmd.Flags().StringSlice("actors", nil, "Actors")
	addCmd.Flags().String("isbn", "", "ISBN")
	addCmd.Flags().Int("year", 0, "Release year")
	addCmd.Flags().Float64P("rating", "r", 0, "Rating 0-5 in halves")
	addCmd.Flags().StringSlice("tags", nil, "Tags")
	addCmd.Flags().String("review", "", "Review text")

	rmCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	restoreCmd.Flags().String("as", "", "Original document name")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(shellCmd)
}
