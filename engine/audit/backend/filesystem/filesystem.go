package auditfilesystem

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fractaldogs/dogworld/engine/audit/audit_common"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/netutil"
	"github.com/pkg/errors"
)

const (
	_FILE_PREFIX = "commitment$"
)

var (
	dataPacker = netutil.MessagePackMsgPacker{}
)

type fileSystemCommitmentStorage struct {
	directory string
}

// OpenDirectory opens directory as commitment storage, one msgpack file per commitment
func OpenDirectory(directory string) (auditcommon.CommitmentStorage, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.Wrapf(err, "create audit directory %s failed", directory)
	}

	return &fileSystemCommitmentStorage{
		directory: directory,
	}, nil
}

func (fs *fileSystemCommitmentStorage) getFilePath(seq uint64) string {
	return filepath.Join(fs.directory, _FILE_PREFIX+strconv.FormatUint(seq, 10))
}

// writeTemp writes the packed commitment next to its final path; readers never see a partial file
func (fs *fileSystemCommitmentStorage) writeTemp(c *auditcommon.BatchCommitment) (tmp string, path string, err error) {
	data, err := dataPacker.PackMsg(c, nil)
	if err != nil {
		return
	}
	path = fs.getFilePath(c.Sequence)
	tmp = path + ".tmp"
	err = os.WriteFile(tmp, data, 0644)
	return
}

func (fs *fileSystemCommitmentStorage) Insert(c *auditcommon.BatchCommitment) error {
	tmp, path, err := fs.writeTemp(c)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	// link fails instead of replacing an existing file
	if err := os.Link(tmp, path); err != nil {
		if os.IsExist(err) {
			return errors.Wrapf(auditcommon.ErrCommitmentExists, "sequence %d", c.Sequence)
		}
		return err
	}
	return nil
}

func (fs *fileSystemCommitmentStorage) Write(c *auditcommon.BatchCommitment) error {
	tmp, path, err := fs.writeTemp(c)
	if err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (fs *fileSystemCommitmentStorage) Read(seq uint64) (*auditcommon.BatchCommitment, error) {
	data, err := os.ReadFile(fs.getFilePath(seq))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var c auditcommon.BatchCommitment
	if err := dataPacker.UnpackMsg(data, &c); err != nil {
		return nil, errors.Wrapf(err, "corrupted commitment file of %d", seq)
	}
	return &c, nil
}

func (fs *fileSystemCommitmentStorage) List() ([]uint64, error) {
	files, err := filepath.Glob(filepath.Join(fs.directory, _FILE_PREFIX+"*"))
	if err != nil {
		return nil, err
	}
	seqs := make([]uint64, 0, len(files))
	for _, fpath := range files {
		_, fn := filepath.Split(fpath)
		if strings.HasSuffix(fn, ".tmp") {
			continue
		}
		seq, err := strconv.ParseUint(fn[len(_FILE_PREFIX):], 10, 64)
		if err != nil {
			gwlog.Errorf("audit: invalid file %s", fpath)
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (fs *fileSystemCommitmentStorage) Close() {
	// need to do nothing
}

func (fs *fileSystemCommitmentStorage) IsEOF(err error) bool {
	return false
}
