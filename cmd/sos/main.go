// cmd/sos/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"sos/internal/config"
	sosErrors "sos/internal/errors"
	"sos/internal/logging"
	"sos/internal/merge"
	"sos/internal/meta"
	"sos/internal/repo"
	"sos/internal/watch"
	"sos/internal/workspace"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sos",
	Short: "Subversion offline solution",
	Long: `sos versions a working copy locally while it is disconnected from its
upstream version control system. Branch, commit and switch offline, then go
online again and commit the result upstream.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(config.Path(), ".env"); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if logger, err = logging.NewLogger(cfg.LogLevel, cfg.Development()); err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	var offlineCmd = &cobra.Command{
		Use:   "offline [name]",
		Short: "Start offline version control of the current directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
				cfg.Storage.Backend = backend
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			modes := meta.Modes{
				Track:    flagOr(cmd, "track", cfg.Defaults.Track),
				Picky:    flagOr(cmd, "picky", cfg.Defaults.Picky),
				Strict:   flagOr(cmd, "strict", cfg.Defaults.Strict),
				Compress: flagOr(cmd, "compress", cfg.Defaults.Compress),
			}
			r, err := repo.Offline(dir, cfg, logger.Logger, argOr(args, 0), modes)
			if err != nil {
				return err
			}
			defer r.Close()

			fmt.Println("Offline repository created in", dir)
			return nil
		},
	}

	var onlineCmd = &cobra.Command{
		Use:   "online",
		Short: "End offline version control and remove all metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return withRepo(cmd, func(r *repo.Repository) error {
				if err := r.Online(force); err != nil {
					return err
				}
				fmt.Println("Offline repository removed, working tree is online again")
				return nil
			})
		},
	}

	var branchCmd = &cobra.Command{
		Use:   "branch [name]",
		Short: "Create a branch from the working tree or the last revision",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := repo.BranchOptions{Name: argOr(args, 0)}
			opts.Message, _ = cmd.Flags().GetString("message")
			opts.Last, _ = cmd.Flags().GetBool("last")
			opts.Fast, _ = cmd.Flags().GetBool("fast")
			opts.Stay, _ = cmd.Flags().GetBool("stay")

			return withRepo(cmd, func(r *repo.Repository) error {
				id, msg, err := r.Branch(opts)
				if err != nil {
					return err
				}
				printNote(msg)
				fmt.Printf("Created branch %d\n", id)
				return nil
			})
		},
	}

	var commitCmd = &cobra.Command{
		Use:   "commit [message]",
		Short: "Record the working tree changes as a new revision",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts repo.CommitOptions
			opts.Force, _ = cmd.Flags().GetBool("force")
			opts.Tag, _ = cmd.Flags().GetBool("tag")

			return withRepo(cmd, func(r *repo.Repository) error {
				revision, msg, err := r.Commit(argOr(args, 0), opts)
				if err != nil {
					return err
				}
				printNote(msg)
				fmt.Printf("Created revision %d/%d\n", r.Current(), revision)
				return nil
			})
		},
	}

	var switchCmd = &cobra.Command{
		Use:   "switch [branch][/revision]",
		Short: "Make the working tree match another branch or revision",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return withRepo(cmd, func(r *repo.Repository) error {
				if err := r.Switch(argOr(args, 0), force); err != nil {
					return err
				}
				fmt.Printf("Switched to branch %d\n", r.Current())
				return nil
			})
		},
	}

	var updateCmd = &cobra.Command{
		Use:   "update [branch][/revision]",
		Short: "Integrate another branch or revision into the working tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := updateOptions(cmd)
			if err != nil {
				return err
			}
			return withRepo(cmd, func(r *repo.Repository) error {
				if err := r.Update(argOr(args, 0), opts); err != nil {
					return err
				}
				fmt.Println("Working tree updated, review and commit the result")
				return nil
			})
		},
	}

	var destroyCmd = &cobra.Command{
		Use:   "destroy [branch]",
		Short: "Remove a branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return withRepo(cmd, func(r *repo.Repository) error {
				if err := r.Destroy(argOr(args, 0), force); err != nil {
					return err
				}
				fmt.Printf("Branch removed, current branch is %d\n", r.Current())
				return nil
			})
		},
	}

	var changesCmd = &cobra.Command{
		Use:   "changes [branch][/revision]",
		Short: "List file changes against a revision",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(r *repo.Repository) error {
				changes, err := r.Changes(argOr(args, 0))
				if err != nil {
					return err
				}
				printChanges(changes)
				return nil
			})
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff [branch][/revision]",
		Short: "Show line differences against a revision",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextLines, _ := cmd.Flags().GetInt("context")
			return withRepo(cmd, func(r *repo.Repository) error {
				diffs, err := r.Diff(argOr(args, 0))
				if err != nil {
					return err
				}
				printDiffs(diffs)
				return nil
			}, repo.WithContextLines(contextLines))
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show branches and working tree changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(r *repo.Repository) error {
				status, err := r.Status()
				if err != nil {
					return err
				}
				printStatus(status)
				return nil
			})
		},
	}

	var logCmd = &cobra.Command{
		Use:   "log [branch][/revision]",
		Short: "List the revisions of a branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(r *repo.Repository) error {
				entries, err := r.Log(argOr(args, 0))
				if err != nil {
					return err
				}
				printLog(entries)
				return nil
			})
		},
	}

	var lsCmd = &cobra.Command{
		Use:   "ls [branch][/revision]",
		Short: "List the files of a revision",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(r *repo.Repository) error {
				files, err := r.Files(argOr(args, 0))
				if err != nil {
					return err
				}
				printFiles(files)
				return nil
			})
		},
	}

	var catCmd = &cobra.Command{
		Use:   "cat <path> [branch][/revision]",
		Short: "Print a file as it was at a revision",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(r *repo.Repository) error {
				content, err := r.Cat(argOr(args, 1), args[0])
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(content)
				return err
			})
		},
	}

	var tagsCmd = &cobra.Command{
		Use:   "tags",
		Short: "List tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(r *repo.Repository) error {
				tags := r.Tags()
				if len(tags) == 0 {
					fmt.Println("No tags")
				}
				for _, tag := range tags {
					fmt.Println(tag)
				}
				return nil
			})
		},
	}

	var addCmd = &cobra.Command{
		Use:   "add <pattern>",
		Short: "Track files matching a pattern in track or picky mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			negative, _ := cmd.Flags().GetBool("negative")
			return withRepo(cmd, func(r *repo.Repository) error {
				return r.Track(args[0], negative)
			})
		},
	}

	var rmCmd = &cobra.Command{
		Use:   "rm <pattern>",
		Short: "Stop tracking a pattern in track or picky mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			negative, _ := cmd.Flags().GetBool("negative")
			return withRepo(cmd, func(r *repo.Repository) error {
				return r.Untrack(args[0], negative)
			})
		},
	}

	var watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Print working tree changes whenever files are edited",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			debounce, _ := cmd.Flags().GetDuration("debounce")
			return withRepo(cmd, func(r *repo.Repository) error {
				log := logger.WithRepository(r.ID())
				w, err := watch.New(r.Root, r.Filter(), debounce, log)
				if err != nil {
					return err
				}
				defer w.Close()

				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
				defer stop()

				log.Info("Watching working tree", zap.Strings("directories", w.WatchList()))
				err = w.Run(ctx, func() error {
					changes, err := r.Changes("")
					if err != nil {
						return err
					}
					fmt.Printf("\n%s\n", time.Now().Format(time.TimeOnly))
					printChanges(changes)
					return nil
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}

	offlineCmd.Flags().Bool("track", false, "Select files by pattern, keeping patterns across commits")
	offlineCmd.Flags().Bool("picky", false, "Select files by pattern, clearing patterns after each commit")
	offlineCmd.Flags().Bool("strict", false, "Compare file contents instead of modification times")
	offlineCmd.Flags().Bool("compress", false, "Compress stored file versions")
	offlineCmd.Flags().String("backend", "", "Metadata backend (file, badger)")

	onlineCmd.Flags().BoolP("force", "f", false, "Go online even with unintegrated branches or changes")

	branchCmd.Flags().StringP("message", "m", "", "Branch description")
	branchCmd.Flags().Bool("last", false, "Branch from the last revision instead of the working tree")
	branchCmd.Flags().Bool("fast", false, "Only reference the parent's history (requires --last)")
	branchCmd.Flags().Bool("stay", false, "Keep the current branch selected")

	commitCmd.Flags().BoolP("force", "f", false, "Commit even without changes")
	commitCmd.Flags().Bool("tag", false, "Store the message as a tag")

	switchCmd.Flags().BoolP("force", "f", false, "Overwrite uncommitted changes")

	updateCmd.Flags().String("file", merge.Both.String(), "Whole-file operation (insert, remove, both, ask)")
	updateCmd.Flags().String("line", merge.Both.String(), "Line operation (insert, remove, both, ask)")
	updateCmd.Flags().String("char", merge.Both.String(), "Character operation for single replaced lines")
	updateCmd.Flags().String("eol", "auto", "Line ending of merged files (auto, lf, crlf)")

	destroyCmd.Flags().BoolP("force", "f", false, "Remove the branch despite uncommitted changes")

	diffCmd.Flags().IntP("context", "U", 3, "Context lines around each change")

	addCmd.Flags().Bool("negative", false, "Exclude matching files instead")
	rmCmd.Flags().Bool("negative", false, "Remove an exclusion pattern")

	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before changes are reported")

	for _, c := range []*cobra.Command{onlineCmd, branchCmd, commitCmd, switchCmd, updateCmd,
		destroyCmd, changesCmd, diffCmd, statusCmd, watchCmd} {
		c.Flags().Bool("strict", false, "Compare file contents for this invocation (--strict=false compares times)")
	}
	rootCmd.PersistentFlags().Bool("progress", false, "Report the number of scanned files")

	rootCmd.AddCommand(offlineCmd, onlineCmd, branchCmd, commitCmd, switchCmd, updateCmd,
		destroyCmd, changesCmd, diffCmd, statusCmd, logCmd, lsCmd, catCmd, tagsCmd,
		addCmd, rmCmd, watchCmd)
}

// withRepo opens the repository containing the current directory, runs fn and
// closes it again. The command's --strict and --progress flags apply.
func withRepo(cmd *cobra.Command, fn func(*repo.Repository) error, opts ...repo.Option) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}
	root, err := workspace.FindRoot(cwd)
	if err != nil {
		return err
	}

	opts = append([]repo.Option{repo.WithResolver(newConsoleResolver(os.Stdin, os.Stdout))}, opts...)
	if cmd.Flags().Lookup("strict") != nil && cmd.Flags().Changed("strict") {
		strict, _ := cmd.Flags().GetBool("strict")
		opts = append(opts, repo.WithStrict(strict))
	}
	if on, _ := cmd.Flags().GetBool("progress"); on {
		progress := newProgressPrinter(os.Stderr, progressEvery)
		opts = append(opts, repo.WithProgress(progress.Scanned))
		defer progress.Done()
	}

	r, err := repo.Open(root, cfg, logger.Logger, opts...)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	defer r.Close()

	return fn(r)
}

func updateOptions(cmd *cobra.Command) (repo.UpdateOptions, error) {
	opts := repo.DefaultUpdateOptions()
	for flag, op := range map[string]*merge.Operation{"file": &opts.FileOp, "line": &opts.LineOp, "char": &opts.CharOp} {
		value, _ := cmd.Flags().GetString(flag)
		parsed, err := merge.ParseOperation(value)
		if err != nil {
			return opts, sosErrors.ValidationError(err.Error(), flag)
		}
		*op = parsed
	}

	eol, _ := cmd.Flags().GetString("eol")
	switch eol {
	case "auto":
		opts.EOL = merge.AutoEOL
	case "lf":
		opts.EOL = merge.LF
	case "crlf":
		opts.EOL = merge.CRLF
	default:
		return opts, sosErrors.ValidationError("unknown line ending", eol)
	}
	return opts, nil
}

// flagOr returns the flag's value when it was given on the command line.
func flagOr(cmd *cobra.Command, name string, fallback bool) bool {
	if !cmd.Flags().Changed(name) {
		return fallback
	}
	value, _ := cmd.Flags().GetBool(name)
	return value
}

func argOr(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		if sosErrors.IsForceable(err) {
			fmt.Fprintln(os.Stderr, "  (use --force to continue anyway)")
		}
		os.Exit(1)
	}
}
