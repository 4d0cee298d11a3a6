//go:build linux

package system

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"wipecert_enterprise/internal/wipe"
)

const exclusiveFlag = unix.O_EXCL

// Точки монтирования, делающие диск системным/загрузочным
var systemMounts = map[string]bool{
	"/":         true,
	"/boot":     true,
	"/boot/efi": true,
	"/usr":      true,
	"/var":      true,
	"[SWAP]":    true,
}

// Виртуальные устройства, которые не перечисляются
var skipPrefixes = []string{"loop", "ram", "zram", "sr", "fd", "dm-", "md", "nbd"}

// SysfsLister перечисляет блочные устройства через /sys/block
type SysfsLister struct {
	SysRoot    string
	DevRoot    string
	MountsPath string
	SwapsPath  string

	// StatDev номер устройства файловой системы, содержащей путь; nil означает unix.Stat
	StatDev func(path string) (major, minor uint32, err error)
}

// NewLister lister для текущей платформы
func NewLister() Lister {
	return &SysfsLister{
		SysRoot:    "/sys",
		DevRoot:    "/dev",
		MountsPath: "/proc/self/mounts",
		SwapsPath:  "/proc/swaps",
	}
}

func (l *SysfsLister) ListTargets(ctx context.Context) ([]wipe.Target, error) {
	blockDir := filepath.Join(l.SysRoot, "block")
	entries, err := os.ReadDir(blockDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", blockDir, err)
	}

	busy, err := l.systemDevices()
	if err != nil {
		return nil, err
	}

	var targets []wipe.Target
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if skipDevice(name) {
			continue
		}
		t, ok := l.describe(name, busy)
		if !ok {
			continue
		}
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	return targets, nil
}

func skipDevice(name string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (l *SysfsLister) describe(name string, busy map[string]bool) (wipe.Target, bool) {
	dir := filepath.Join(l.SysRoot, "block", name)

	sectors, err := strconv.ParseUint(readAttr(dir, "size"), 10, 64)
	if err != nil || sectors == 0 {
		return wipe.Target{}, false
	}

	t := wipe.Target{
		ID:        "blk:" + name,
		Path:      filepath.Join(l.DevRoot, name),
		Size:      sectors * 512, // sysfs всегда считает 512-байтными секторами
		Kind:      wipe.MediaUnknown,
		Writable:  readAttr(dir, "ro") != "1",
		Removable: readAttr(dir, "removable") == "1",
		Model:     readAttr(dir, "device/model"),
		Serial:    readAttr(dir, "device/serial"),
	}
	if t.Serial == "" {
		t.Serial = readAttr(dir, "device/wwid")
	}

	switch readAttr(dir, "queue/rotational") {
	case "1":
		t.Kind = wipe.MediaHDD
	case "0":
		t.Kind = wipe.MediaSSD
	}

	// Диск системный, если он сам или любой его раздел (или устройство
	// над ними) смонтирован как системный
	for _, n := range l.family(name) {
		if busy[n] {
			t.IsSystem = true
			break
		}
	}
	return t, true
}

// family имя диска, его разделов и их держателей (dm, md)
func (l *SysfsLister) family(name string) []string {
	dir := filepath.Join(l.SysRoot, "block", name)
	names := []string{name}
	names = append(names, l.holders(dir)...)

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if _, err := os.Stat(filepath.Join(dir, e.Name(), "partition")); err != nil {
			continue
		}
		names = append(names, e.Name())
		names = append(names, l.holders(filepath.Join(dir, e.Name()))...)
	}
	return names
}

func (l *SysfsLister) holders(dir string) []string {
	entries, _ := os.ReadDir(filepath.Join(dir, "holders"))
	var out []string
	for _, e := range entries {
		h := e.Name()
		out = append(out, h)
		if dm := readAttr(filepath.Join(l.SysRoot, "block", h), "dm/name"); dm != "" {
			out = append(out, "mapper/"+dm)
		}
	}
	return out
}

// systemDevices имена устройств (относительно /dev), смонтированных в системные точки
func (l *SysfsLister) systemDevices() (map[string]bool, error) {
	busy := make(map[string]bool)

	f, err := os.Open(l.MountsPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения таблицы монтирования: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !systemMounts[fields[1]] {
			continue
		}
		for _, n := range l.devNames(fields[0], fields[1]) {
			busy[n] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Активный swap тоже делает устройство системным
	if sf, err := os.Open(l.SwapsPath); err == nil {
		defer sf.Close()
		s := bufio.NewScanner(sf)
		for s.Scan() {
			fields := strings.Fields(s.Text())
			if len(fields) == 0 || fields[0] == "Filename" {
				continue
			}
			for _, n := range l.devNames(fields[0], "") {
				busy[n] = true
			}
		}
	}
	return busy, nil
}

// devNames имена устройства относительно DevRoot для источника монтирования:
// как записано и после разрешения символических ссылок
func (l *SysfsLister) devNames(source, mountpoint string) []string {
	// /dev/root ядро показывает для корня, смонтированного по root=
	if source == filepath.Join(l.DevRoot, "root") && mountpoint != "" {
		if n, ok := l.devByMount(mountpoint); ok {
			return []string{n}
		}
	}

	prefix := l.DevRoot + "/"
	if !strings.HasPrefix(source, prefix) {
		return nil
	}
	names := []string{strings.TrimPrefix(source, prefix)}

	// /dev/disk/by-*/..., /dev/mapper/... обычно символические ссылки
	if resolved, err := filepath.EvalSymlinks(source); err == nil {
		root := l.DevRoot
		if r, err := filepath.EvalSymlinks(root); err == nil {
			root = r
		}
		if rel, err := filepath.Rel(root, resolved); err == nil && !strings.HasPrefix(rel, "..") && rel != names[0] {
			names = append(names, rel)
		}
	}
	return names
}

// devByMount находит устройство по st_dev точки монтирования через /sys/dev/block
func (l *SysfsLister) devByMount(mountpoint string) (string, bool) {
	stat := l.StatDev
	if stat == nil {
		stat = statDev
	}
	major, minor, err := stat(mountpoint)
	if err != nil {
		return "", false
	}
	link, err := os.Readlink(filepath.Join(l.SysRoot, "dev", "block", fmt.Sprintf("%d:%d", major, minor)))
	if err != nil {
		return "", false
	}
	return filepath.Base(link), true
}

func statDev(path string) (uint32, uint32, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, err
	}
	dev := uint64(st.Dev)
	return unix.Major(dev), unix.Minor(dev), nil
}

func readAttr(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// BlockDeviceSize размер блочного устройства через BLKGETSIZE64
func BlockDeviceSize(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("BLKGETSIZE64 %s: %w", path, err)
	}
	return uint64(n), nil
}

// device сбрасывает данные через fdatasync: метаданные файла затиранию не нужны
type device struct {
	*os.File
}

func (d *device) Sync() error {
	for {
		err := unix.Fdatasync(int(d.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}
