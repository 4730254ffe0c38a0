package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gardenbot/internal/config"

	"github.com/spf13/cobra"
)

// Archive member names. Files are stored under fixed names so a backup can be
// restored to a different config layout.
const (
	archiveConfig   = "config.json"
	archiveDB       = "gardenbot.db"
	archiveContract = "contract.yaml"
)

// backupTargets maps archive member names to paths on disk.
type backupTargets map[string]string

func resolveTargets(cfgPath string) backupTargets {
	t := backupTargets{archiveConfig: cfgPath}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}
	dbPath := config.ExpandPath(cfg.Store.DBPath)
	t[archiveDB] = dbPath
	t[archiveDB+"-wal"] = dbPath + "-wal"
	t[archiveDB+"-shm"] = dbPath + "-shm"
	if cfg.Browser.ContractPath != "" {
		t[archiveContract] = cfg.Browser.ContractPath
	}
	return t
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of gardenbot data (analyses database + config)",
		Long: `Creates a compressed .tar.gz archive containing the analyses database, the
configuration file and the UI contract override, if any. The backup is
timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := resolveTargets(resolveConfigPath())

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("gardenbot-backup-%s.tar.gz", ts))
			}

			n, err := createTarGz(outputPath, targets)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(n))
			for _, name := range n {
				info, _ := os.Stat(targets[name])
				size := int64(0)
				if info != nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.gardenbot/backups/gardenbot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore gardenbot data from a backup archive",
		Long: `Restores the analyses database and configuration file from a .tar.gz
backup archive created by 'gardenbot backup'. Stop 'gardenbot serve' first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			targets := resolveTargets(cfgPath)

			if !force {
				var existing []string
				for _, name := range []string{archiveConfig, archiveDB} {
					if _, err := os.Stat(targets[name]); err == nil {
						existing = append(existing, targets[name])
					}
				}
				if len(existing) > 0 {
					fmt.Printf("WARNING: This will overwrite existing data.\n")
					for _, p := range existing {
						fmt.Printf("  %s\n", p)
					}
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", args[0])
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// createTarGz archives every target that exists and returns the member names
// written, in archive order.
func createTarGz(outputPath string, targets backupTargets) ([]string, error) {
	var names []string
	for _, name := range []string{archiveConfig, archiveDB, archiveDB + "-wal", archiveDB + "-shm", archiveContract} {
		p, ok := targets[name]
		if !ok {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, errors.New("no files to backup")
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return nil, err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	for _, name := range names {
		if err := addFileToTar(tarWriter, targets[name], name); err != nil {
			return nil, fmt.Errorf("add %s: %w", name, err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	if err := gzWriter.Close(); err != nil {
		return nil, err
	}
	return names, outFile.Close()
}

func addFileToTar(tw *tar.Writer, filePath, name string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz restores the archive members that have a target. Unknown
// members are skipped.
func extractTarGz(archivePath string, targets backupTargets) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		targetPath, ok := targets[filepath.Base(header.Name)]
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}

		outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()

		restored = append(restored, targetPath)
	}

	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
