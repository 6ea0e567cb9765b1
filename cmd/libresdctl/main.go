package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dargueta/libresd"
	"github.com/dargueta/libresd/fat"
)

// fileBlockDevice adapts a raw disk image file to fat.BlockDevice for
// offline inspection, without needing real SD hardware behind it.
type fileBlockDevice struct {
	f *os.File
}

func (d *fileBlockDevice) ReadSector(sector uint32, buf []byte) error {
	_, err := d.f.ReadAt(buf, int64(sector)*512)
	return err
}

func (d *fileBlockDevice) WriteSector(sector uint32, buf []byte) error {
	_, err := d.f.WriteAt(buf, int64(sector)*512)
	return err
}

func mountImage(path string) (*fat.Volume, *os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	v, err := fat.Mount(&fileBlockDevice{f: f}, nil, libresd.DefaultConfig())
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return v, f, nil
}

func main() {
	app := cli.App{
		Usage: "Inspect FAT12/16/32 disk images",
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "Print volume geometry and free space",
				Action:    infoCommand,
				ArgsUsage: "IMAGE_FILE",
			},
			{
				Name:      "ls",
				Usage:     "List a directory's contents",
				Action:    lsCommand,
				ArgsUsage: "IMAGE_FILE [PATH]",
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				Action:    catCommand,
				ArgsUsage: "IMAGE_FILE PATH",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func infoCommand(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("missing IMAGE_FILE argument")
	}
	v, f, err := mountImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := v.GetInfo()
	if err != nil {
		return err
	}
	fmt.Printf("variant:   %s\n", info.Variant)
	fmt.Printf("label:     %s\n", info.Label)
	fmt.Printf("serial:    %08X\n", info.SerialNumber)
	fmt.Printf("cluster:   %d bytes x %d\n", info.ClusterSize, info.ClusterCount)
	fmt.Printf("total:     %d bytes\n", info.TotalBytes)
	fmt.Printf("free:      %d bytes\n", info.FreeBytes)
	if info.CapacityClass != "" {
		fmt.Printf("class:     %s\n", info.CapacityClass)
	}
	return nil
}

func lsCommand(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("missing IMAGE_FILE argument")
	}
	v, f, err := mountImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	path := "/"
	if c.Args().Len() >= 2 {
		path = c.Args().Get(1)
	}

	dir, err := v.Opendir(path)
	if err != nil {
		return err
	}
	defer dir.Closedir()

	for {
		entry, err := dir.Readdir()
		if err != nil {
			if libresd.Of(err) == libresd.ErrEOF {
				break
			}
			return err
		}
		kind := "F"
		if entry.IsDir() {
			kind = "D"
		}
		fmt.Printf("%s %10d %s\n", kind, entry.Size, entry.Name)
	}
	return nil
}

func catCommand(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("usage: cat IMAGE_FILE PATH")
	}
	v, f, err := mountImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	handle, err := v.Open(c.Args().Get(1), fat.ModeRead)
	if err != nil {
		return err
	}
	defer handle.Close()

	buf := make([]byte, 4096)
	for {
		n, err := handle.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err != nil {
			if libresd.Of(err) == libresd.ErrEOF {
				break
			}
			return err
		}
	}
	return nil
}
