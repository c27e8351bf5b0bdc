package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/go-floppy/boot"
	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/config"
	"github.com/mit-pdos/go-floppy/disk"
	"github.com/mit-pdos/go-floppy/fs"
	"github.com/mit-pdos/go-floppy/inode"
	"github.com/mit-pdos/go-floppy/util"
)

func main() {
	util.SetOutput(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := newApp(os.Stdin, os.Stdout).Run(os.Args); err != nil {
		util.Log.Fatal().Err(err).Msg("floppyfs")
	}
}

func newApp(stdin io.Reader, stdout io.Writer) *cli.App {
	return &cli.App{
		Name:        "floppyfs",
		Usage:       "manage the flat filesystem on an emulated diskette image",
		Description: "configuration comes from $FLOPPY_CONFIG_FILE and FLOPPY_* variables; flags override both",
		Writer:      stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML configuration file",
				EnvVars: []string{"FLOPPY_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:  "image",
				Usage: "diskette image file (default: an in-memory medium)",
			},
			&cli.Uint64Flag{
				Name:  "debug",
				Usage: "DPrintf verbosity",
			},
		},
		Commands: []*cli.Command{{
			Name:  "format",
			Usage: "write an empty filesystem",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "geometry",
					Usage: "CxHxS or 1.44M, 1.2M, 720K, 360K, 2.88M",
				},
				&cli.StringFlag{
					Name:  "name",
					Usage: "volume name, at most 16 bytes",
				},
			},
			Action: withSystem(func(s *boot.System, ctx *cli.Context) error {
				if err := s.Driver.Format(s.Config.Geometry); err != nil {
					return err
				}
				f, err := fs.Mount(s.Driver, s.Config.FsOptions())
				if err != nil {
					return err
				}
				s.Fs = f
				return printStatFS(s, stdout)
			}),
		}, {
			Name:    "ls",
			Aliases: []string{"list"},
			Usage:   "list files",
			Action: withSystem(func(s *boot.System, ctx *cli.Context) error {
				ips, err := s.Fs.List()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(stdout, 0, 8, 1, ' ', 0)
				fmt.Fprintln(w, "INUM\tID\tKIND\tSIZE\tBLOCKS\tNAME")
				for _, ip := range ips {
					fmt.Fprintf(w, "%d\t%d\t%v\t%d\t%d@%d\t%s\n",
						ip.Inum, ip.Id, ip.Kind, ip.Size, ip.Count, ip.Start, ip.Name)
				}
				return w.Flush()
			}),
		}, {
			Name:      "put",
			Usage:     "copy a local file (or stdin) into the filesystem",
			ArgsUsage: "NAME [FILE]",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "force",
					Usage: "replace NAME if it exists",
				},
			},
			Action: withSystem(func(s *boot.System, ctx *cli.Context) error {
				name := ctx.Args().First()
				if name == "" {
					return fmt.Errorf("put: missing NAME")
				}
				var r io.Reader = stdin
				if src := ctx.Args().Get(1); src != "" && src != "-" {
					file, err := os.Open(src)
					if err != nil {
						return err
					}
					defer file.Close()
					r = file
				}
				data, err := io.ReadAll(r)
				if err != nil {
					return err
				}
				return put(s.Fs, name, data, s.Config.DefaultFileBlocks, ctx.Bool("force"))
			}),
		}, {
			Name:      "mkdir",
			Usage:     "create a directory entry",
			ArgsUsage: "NAME",
			Action: withSystem(func(s *boot.System, ctx *cli.Context) error {
				_, err := s.Fs.Create(ctx.Args().First(), inode.Directory)
				return err
			}),
		}, {
			Name:      "cat",
			Usage:     "print a file",
			ArgsUsage: "NAME",
			Action: withSystem(func(s *boot.System, ctx *cli.Context) error {
				data, err := readAll(s.Fs, ctx.Args().First())
				if err != nil {
					return err
				}
				_, err = stdout.Write(data)
				return err
			}),
		}, {
			Name:      "rm",
			Aliases:   []string{"remove"},
			Usage:     "remove a file",
			ArgsUsage: "NAME",
			Action: withSystem(func(s *boot.System, ctx *cli.Context) error {
				return s.Fs.Remove(ctx.Args().First())
			}),
		}, {
			Name:      "stat",
			Usage:     "describe the filesystem, or one file",
			ArgsUsage: "[NAME]",
			Action: withSystem(func(s *boot.System, ctx *cli.Context) error {
				name := ctx.Args().First()
				if name == "" {
					return printStatFS(s, stdout)
				}
				h, err := s.Fs.Open(name)
				if err != nil {
					return err
				}
				ip, err := s.Fs.Stat(h)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%v\nhandle %v capacity %d\n", ip, h, ip.Capacity())
				return nil
			}),
		}, {
			Name:  "stats",
			Usage: "print driver statistics",
			Action: withSystem(func(s *boot.System, ctx *cli.Context) error {
				mfs, err := s.Registry.Gather()
				if err != nil {
					return err
				}
				for _, mf := range mfs {
					for _, m := range mf.GetMetric() {
						switch {
						case m.GetCounter() != nil:
							fmt.Fprintf(stdout, "%s %v\n", mf.GetName(), m.GetCounter().GetValue())
						case m.GetGauge() != nil && m.GetGauge().GetValue() != 0:
							fmt.Fprintf(stdout, "%s %s\n", mf.GetName(), m.GetLabel()[0].GetValue())
						}
					}
				}
				return nil
			}),
		}, {
			Name:      "dump",
			Usage:     "hex dump raw blocks of the image without mounting it",
			ArgsUsage: "BLOCK [COUNT]",
			Action: func(ctx *cli.Context) error {
				image := ctx.String("image")
				if image == "" {
					return fmt.Errorf("dump: --image is required")
				}
				var start, count uint64 = 0, 1
				if ctx.NArg() > 0 {
					if _, err := fmt.Sscan(ctx.Args().Get(0), &start); err != nil {
						return fmt.Errorf("dump: block: %w", err)
					}
				}
				if ctx.NArg() > 1 {
					if _, err := fmt.Sscan(ctx.Args().Get(1), &count); err != nil {
						return fmt.Errorf("dump: count: %w", err)
					}
				}
				return dump(image, start, count, stdout)
			},
		}},
	}
}

// withSystem boots the configured drive for one command.
func withSystem(
	f func(s *boot.System, ctx *cli.Context) error,
) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		cfg, err := config.LoadFile(ctx.String("config"))
		if err != nil {
			return err
		}
		if ctx.IsSet("image") {
			cfg.Image = ctx.String("image")
		}
		if ctx.IsSet("debug") {
			cfg.Debug = ctx.Uint64("debug")
		}
		if ctx.IsSet("name") {
			cfg.VolumeName = ctx.String("name")
		}
		if ctx.IsSet("geometry") {
			if err := cfg.Geometry.Decode(ctx.String("geometry")); err != nil {
				return err
			}
		}
		if err := cfg.ApplyLogging(); err != nil {
			return err
		}
		s, err := boot.Boot(cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		return f(s, ctx)
	}
}

func put(f *fs.Fs, name string, data []byte, minBlocks uint64, force bool) error {
	nblocks := util.RoundUp(uint64(len(data)), disk.BlockSize)
	if nblocks < minBlocks {
		nblocks = minBlocks
	}
	create := f.CreateSized
	if force {
		create = f.Recreate
	}
	h, err := create(name, inode.File, nblocks)
	if err != nil {
		return err
	}
	_, err = f.Write(h, 0, data)
	return err
}

func readAll(f *fs.Fs, name string) ([]byte, error) {
	h, err := f.Open(name)
	if err != nil {
		return nil, err
	}
	ip, err := f.Stat(h)
	if err != nil {
		return nil, err
	}
	return f.Read(h, 0, ip.Size)
}

func printStatFS(s *boot.System, w io.Writer) error {
	if err := s.Fs.ReadOnly(); err != nil {
		fmt.Fprintf(w, "read-only: %v\n", err)
	}
	info, err := s.Fs.StatFS()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "volume %q, formatted by release %v\n", info.Name, info.Release)
	fmt.Fprintf(w, "geometry %v, %d blocks, data from block %d\n",
		s.Config.Geometry, info.Blocks, info.DataStart)
	fmt.Fprintf(w, "free blocks %d (largest extent %d), free inodes %d of %d\n",
		info.FreeBlocks, info.LargestExtent, info.FreeInodes, info.Inodes)
	return nil
}

func dump(image string, start, count uint64, w io.Writer) error {
	d, err := disk.OpenFileDiskReadOnly(image)
	if err != nil {
		return err
	}
	defer d.Close()
	for a := start; a < start+count; a++ {
		blk, err := d.ReadBlock(a)
		if err != nil {
			return err
		}
		label := ""
		if a == common.SUPERBLK {
			label = " (superblock)"
		}
		fmt.Fprintf(w, "block %d%s\n%s", a, label, hex.Dump(blk))
	}
	return nil
}
