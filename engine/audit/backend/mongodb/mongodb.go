package auditmongodb

import (
	"io"
	"time"

	"github.com/fractaldogs/dogworld/engine/audit/audit_common"
	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/pkg/errors"
	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"
)

const (
	_DEFAULT_DB_NAME = "dogworld"
)

type mongoDBCommitmentStorage struct {
	col *mgo.Collection
}

// commitmentDoc is the bson layout; uint64 sequences are stored as int64
type commitmentDoc struct {
	Sequence    int64     `bson:"_id"`
	MerkleRoot  string    `bson:"root"`
	DiffCount   int       `bson:"count"`
	SubmittedAt time.Time `bson:"at"`
	Status      string    `bson:"status"`
	Reference   string    `bson:"ref,omitempty"`
	Error       string    `bson:"err,omitempty"`
}

// OpenMongoDB opens mongodb as commitment storage
func OpenMongoDB(url string, dbname string, collection string) (auditcommon.CommitmentStorage, error) {
	gwlog.Debugf("Connecting MongoDB ...")
	session, err := mgo.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "mongodb dial failed")
	}

	session.SetMode(mgo.Monotonic, true)
	if dbname == "" {
		// if db is not specified, use default
		dbname = _DEFAULT_DB_NAME
	}
	return &mongoDBCommitmentStorage{
		col: session.DB(dbname).C(collection),
	}, nil
}

func toDoc(c *auditcommon.BatchCommitment) commitmentDoc {
	return commitmentDoc{
		Sequence:    int64(c.Sequence),
		MerkleRoot:  c.MerkleRoot.String(),
		DiffCount:   c.DiffCount,
		SubmittedAt: c.SubmittedAt,
		Status:      string(c.Status),
		Reference:   c.Reference,
		Error:       c.Error,
	}
}

func (ms *mongoDBCommitmentStorage) Insert(c *auditcommon.BatchCommitment) error {
	err := ms.col.Insert(toDoc(c))
	if mgo.IsDup(err) {
		return errors.Wrapf(auditcommon.ErrCommitmentExists, "sequence %d", c.Sequence)
	}
	return err
}

func (ms *mongoDBCommitmentStorage) Write(c *auditcommon.BatchCommitment) error {
	_, err := ms.col.UpsertId(int64(c.Sequence), toDoc(c))
	return err
}

func (ms *mongoDBCommitmentStorage) Read(seq uint64) (*auditcommon.BatchCommitment, error) {
	var doc commitmentDoc
	err := ms.col.FindId(int64(seq)).One(&doc)
	if err == mgo.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	root, err := common.ParseHash(doc.MerkleRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupted root of commitment %d", seq)
	}
	return &auditcommon.BatchCommitment{
		Sequence:    uint64(doc.Sequence),
		MerkleRoot:  root,
		DiffCount:   doc.DiffCount,
		SubmittedAt: doc.SubmittedAt,
		Status:      auditcommon.Status(doc.Status),
		Reference:   doc.Reference,
		Error:       doc.Error,
	}, nil
}

func (ms *mongoDBCommitmentStorage) List() ([]uint64, error) {
	var docs []bson.M
	err := ms.col.Find(nil).Select(bson.M{"_id": 1}).Sort("_id").All(&docs)
	if err != nil {
		return nil, err
	}

	seqs := make([]uint64, 0, len(docs))
	for _, doc := range docs {
		switch id := doc["_id"].(type) {
		case int64:
			seqs = append(seqs, uint64(id))
		case int:
			seqs = append(seqs, uint64(id))
		default:
			gwlog.Errorf("audit: invalid commitment id %v", doc["_id"])
		}
	}
	return seqs, nil
}

func (ms *mongoDBCommitmentStorage) Close() {
	ms.col.Database.Session.Close()
}

func (ms *mongoDBCommitmentStorage) IsEOF(err error) bool {
	err = errors.Cause(err)
	return err == io.EOF || err == io.ErrUnexpectedEOF
}
