package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/probelab/hwpulse/internal/schema"
	"github.com/probelab/hwpulse/internal/store"
)

// dmiPath is where the kernel exposes the DMI/SMBIOS identity attributes.
const dmiPath = "/sys/class/dmi/id"

// ErrNoBoardSerial is returned when DMI exposes no board serial: without it
// there is no uniqueness basis for the board_data upsert.
var ErrNoBoardSerial = errors.New("collector: no board serial exposed by DMI")

// boardFields describes the board_data table. The board serial is the
// conflict target: repeated runs describe the same physical board, so facts
// are upserted rather than appended.
func boardFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "bios_date", Type: schema.Text},
		{Name: "bios_release", Type: schema.Text},
		{Name: "bios_vendor", Type: schema.Text},
		{Name: "bios_version", Type: schema.Text},
		{Name: "board_name", Type: schema.Text},
		{Name: "board_serial", Type: schema.Text, NotNull: true, Option: schema.OptUnique},
		{Name: "board_vendor", Type: schema.Text},
		{Name: "board_version", Type: schema.Text},
	}
}

// BoardInfo holds the motherboard and BIOS identity read from DMI.
type BoardInfo struct {
	BIOSDate     string `json:"bios_date"`
	BIOSRelease  string `json:"bios_release"`
	BIOSVendor   string `json:"bios_vendor"`
	BIOSVersion  string `json:"bios_version"`
	BoardName    string `json:"board_name"`
	BoardSerial  string `json:"board_serial"`
	BoardVendor  string `json:"board_vendor"`
	BoardVersion string `json:"board_version"`
}

// Board collects motherboard and BIOS identity facts.
type Board struct {
	logger *zap.Logger
	ddl    []string
	upsert schema.Statement
	// dmiDir is overridable for tests.
	dmiDir string
}

// NewBoard compiles the board schema up front; a descriptor error here is a
// programmer error and fails the collector before any datastore access.
func NewBoard(logger *zap.Logger) (*Board, error) {
	table := schema.Table{Name: "board_data", Fields: boardFields()}

	ddl, err := schema.CreateTable(table)
	if err != nil {
		return nil, err
	}
	upsert, err := schema.Upsert(table, []string{"board_serial"}, []string{"id", "timestamp"})
	if err != nil {
		return nil, err
	}

	statements := []string{ddl}
	if upsert.IndexDDL != "" {
		statements = append(statements, upsert.IndexDDL)
	}

	return &Board{
		logger: logger,
		ddl:    statements,
		upsert: upsert,
		dmiDir: dmiPath,
	}, nil
}

func (b *Board) Name() string { return "board" }

func (b *Board) DDL() []string { return b.ddl }

// Collect reads the DMI attributes and upserts the board fact row keyed on
// the board serial. Excluded columns (id, timestamp) keep the values of the
// first run that saw this board.
func (b *Board) Collect(ctx context.Context, sess *store.Session) error {
	info, err := b.acquire()
	if err != nil {
		return err
	}

	_, err = sess.Insert(ctx, b.upsert.SQL,
		timestamp(),
		info.BIOSDate,
		info.BIOSRelease,
		info.BIOSVendor,
		info.BIOSVersion,
		info.BoardName,
		info.BoardSerial,
		info.BoardVendor,
		info.BoardVersion,
	)
	return err
}

// Snapshot returns the DMI identity without persisting it.
func (b *Board) Snapshot(_ context.Context) (any, error) {
	return b.acquire()
}

func (b *Board) acquire() (*BoardInfo, error) {
	info := &BoardInfo{
		BIOSDate:     b.dmiAttribute("bios_date"),
		BIOSRelease:  b.dmiAttribute("bios_release"),
		BIOSVendor:   b.dmiAttribute("bios_vendor"),
		BIOSVersion:  b.dmiAttribute("bios_version"),
		BoardName:    b.dmiAttribute("board_name"),
		BoardSerial:  b.dmiAttribute("board_serial"),
		BoardVendor:  b.dmiAttribute("board_vendor"),
		BoardVersion: b.dmiAttribute("board_version"),
	}
	if info.BoardSerial == "" {
		return nil, ErrNoBoardSerial
	}
	return info, nil
}

// dmiAttribute reads one DMI attribute file; an unreadable attribute (not
// present, or serial files restricted to root) yields an empty string.
func (b *Board) dmiAttribute(name string) string {
	raw, err := os.ReadFile(filepath.Join(b.dmiDir, name))
	if err != nil {
		b.logger.Debug("dmi attribute unavailable", zap.String("attribute", name), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(string(raw))
}
