package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

// NewPutCommand creates the put command
func NewPutCommand() *cobra.Command {
	var contentType string
	var name string

	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file and print its blob id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(path)
			}
			if contentType == "" {
				contentType = simplegrid.DetectContentType(name)
			}

			store, cfg, err := storeFromFlags(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := store.Put(cmd.Context(), f, simplegrid.PutParams{
				ID:          uuid.New(),
				Filename:    name,
				ContentType: contentType,
				Size:        info.Size(),
			})
			if err != nil {
				return fmt.Errorf("put failed: %w", err)
			}

			md := simplegrid.AttachmentMetadata{ID: id, Name: name, Size: info.Size(), ContentType: contentType}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			fmt.Fprintf(cmd.ErrOrStderr(), "URL: %s\n", md.URL(cfg.Prefix))
			return nil
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (detected from the name by default)")
	cmd.Flags().StringVar(&name, "name", "", "stored filename (default: base name of <file>)")

	return cmd
}

// NewGetCommand creates the get command
func NewGetCommand() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Write a blob to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid blob id %q: %w", args[0], err)
			}

			store, _, err := storeFromFlags(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			blob, err := store.Get(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get failed: %w", err)
			}
			defer blob.Close()

			var out io.Writer = cmd.OutOrStdout()
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			if _, err := io.Copy(out, blob.Body); err != nil {
				return fmt.Errorf("copy failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: stdout)")

	return cmd
}

// NewRemoveCommand creates the rm command
func NewRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete blobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := storeFromFlags(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					return fmt.Errorf("invalid blob id %q: %w", arg, err)
				}
				if err := store.Delete(cmd.Context(), id); err != nil {
					if simplegrid.IsNotFound(err) {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: not found\n", id)
						continue
					}
					return fmt.Errorf("delete %s failed: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}

// NewStatCommand creates the stat command
func NewStatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <id>",
		Short: "Show blob metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid blob id %q: %w", args[0], err)
			}

			store, _, err := storeFromFlags(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			blob, err := store.Get(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("stat failed: %w", err)
			}
			defer blob.Close()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ID:            %s\n", blob.ID)
			fmt.Fprintf(w, "Filename:      %s\n", blob.Filename)
			fmt.Fprintf(w, "Content-Type:  %s\n", blob.ContentType)
			fmt.Fprintf(w, "Size:          %d\n", blob.Size)
			fmt.Fprintf(w, "Uploaded:      %s\n", blob.UploadDate.UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "ETag:          %s\n", simplegrid.QuoteETag(blob.Checksum))
			return nil
		},
	}
}
