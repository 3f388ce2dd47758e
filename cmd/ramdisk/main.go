// Command ramdisk mounts an in-memory FUSE file system backed by a fixed
// byte budget, optionally restoring and persisting its tree to a snapshot
// file across mounts.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	fallocate "github.com/detailyang/go-fallocate"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"

	"github.com/ramdiskfs/ramdisk/internal/metrics"
	"github.com/ramdiskfs/ramdisk/internal/ramfs"
	"github.com/ramdiskfs/ramdisk/internal/snapshot"
	"github.com/ramdiskfs/ramdisk/internal/vfsbridge"
)

var metricsAddr string

func main() {
	root := &cobra.Command{
		Use:   "ramdisk <mount_point> <capacity_mib> [<snapshot_path>]",
		Short: "Mount an in-memory FUSE file system with a fixed capacity",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  run,
	}
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.WithField("component", "ramdisk")

	mountPoint := args[0]

	capacityMiB, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || capacityMiB <= 0 {
		return errors.Errorf("Invalid Memory Size: %q", args[1])
	}
	capacityBytes := capacityMiB << 20

	var snapshotPath string
	if len(args) == 3 {
		snapshotPath = args[2]
	}

	met := metrics.New()
	if metricsAddr != "" {
		go func() {
			log.WithField("addr", metricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(metricsAddr, met.Handler()); err != nil {
				log.WithError(err).Error("metrics server exited")
			}
		}()
	}

	fs := ramfs.New(capacityBytes, timeutil.RealClock(), log, met)

	if snapshotPath != "" {
		if err := loadSnapshot(fs, snapshotPath, log); err != nil {
			return errors.Wrap(err, "load snapshot")
		}
	}

	bridge := vfsbridge.New(fs)
	server := fuseutil.NewFileSystemServer(bridge)

	mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{})
	if err != nil {
		return errors.Wrap(err, "mount")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("signal received, unmounting")
		if err := fuse.Unmount(mountPoint); err != nil {
			log.WithError(err).Error("unmount failed")
		}
	}()

	joinErr := mfs.Join(context.Background())

	if snapshotPath != "" {
		if err := saveSnapshot(fs, snapshotPath, log); err != nil {
			log.WithError(err).Error("save snapshot")
		}
	}

	return joinErr
}

func loadSnapshot(fs *ramfs.FS, path string, log *logrus.Entry) error {
	f, err := os.Open(path)
	if err != nil {
		// Any open failure — missing file, permission denied, or otherwise —
		// starts fresh rather than aborting the mount, matching the C
		// original's fopen(path, "rb") returning NULL for any reason. The
		// path is still remembered by the caller for the shutdown-time
		// encode.
		log.WithField("path", path).WithError(err).Info("could not open snapshot, starting empty")
		return nil
	}
	defer f.Close()

	root, err := snapshot.Decode(f, fs.Accountant())
	if err != nil {
		return err
	}

	fs.Tree().Root = root
	log.WithField("path", path).Info("restored snapshot")
	return nil
}

func saveSnapshot(fs *ramfs.FS, path string, log *logrus.Entry) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	// Preallocate the whole file up front from the exact encoded size, so the
	// snapshot is not fragmented as it is written.
	if err := fallocate.Fallocate(f, 0, snapshot.EncodedSize(fs.Root())); err != nil {
		log.WithError(err).Warn("fallocate snapshot file, continuing without preallocation")
	}

	if err := snapshot.Encode(fs.Root(), f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	log.WithField("path", path).Info("saved snapshot")
	return nil
}
