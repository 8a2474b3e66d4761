package auctiondb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	conc "go.etcd.io/etcd/client/v3/concurrency"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	currentDbVersion = uint32(0)

	etcdTimeout = 10 * time.Second

	// stmDefaultIsolation is the default isolation level we use for STM
	// transactions that manipulate auctions and orders. This is also the
	// default as declared in the concurrency package and offers the most
	// strict isolation.
	stmDefaultIsolation = conc.SerializableSnapshot
)

var (
	// topLevelDir is the top level directory that we'll use to store all
	// the production auction data.
	topLevelDir = "vendue"

	// versionPrefix is the key prefix that we'll use to store the current
	// version of the auction data for the target network.
	versionPrefix = "version"

	// auctionPrefix is the key prefix of the auction records. The full
	// key is <auctionPrefix>/<epoch>.
	auctionPrefix = "auction"

	// orderPrefix is the key prefix of the orders. The full key is
	// <orderPrefix>/<epoch>/<id>.
	orderPrefix = "order"

	// keyDelimiter is the special token that we'll use to delimit entries
	// in a key's path.
	keyDelimiter = "/"
)

// EtcdStore is a Store that keeps all data in etcd. It can optionally mirror
// every change to a SQL database for analysis.
type EtcdStore struct {
	client      *clientv3.Client
	networkID   string
	initialized bool

	// sqlMirror holds an optional SQLStore object which we'll use to mirror
	// auctions and orders to a SQL backend.
	sqlMirror *SQLStore
}

// NewEtcdStore creates a new etcd store instance. The network name separates
// the data of different deployments sharing one etcd cluster. The specified
// user and password should be able to access all keys below the topLevelDir
// above.
func NewEtcdStore(network, host, user, pass string,
	sqlMirror *SQLStore) (*EtcdStore, error) {

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{host},
		DialTimeout: 5 * time.Second,
		Username:    user,
		Password:    pass,
	})
	if err != nil {
		return nil, err
	}

	s := &EtcdStore{
		client:    cli,
		networkID: network,
		sqlMirror: sqlMirror,
	}

	return s, nil
}

// Client returns the etcd client of the store.
func (s *EtcdStore) Client() *clientv3.Client {
	return s.client
}

// getKeyPrefix returns the key prefix path for the given prefix.
func (s *EtcdStore) getKeyPrefix(prefix string) string {
	// vendue/<network>/<prefix>.
	return strings.Join(
		[]string{topLevelDir, s.networkID, prefix}, keyDelimiter,
	)
}

// Init initializes the necessary versioning state if the database hasn't
// already been created in the past.
func (s *EtcdStore) Init(ctx context.Context) error {
	if s.initialized {
		return errAlreadyInitialized
	}

	ctxt, cancel := context.WithTimeout(ctx, etcdTimeout)
	defer cancel()

	resp, err := s.client.Get(ctxt, s.getKeyPrefix(versionPrefix))
	s.requestShutdownOnCriticalErr(err)
	if err != nil {
		return err
	}

	s.initialized = true

	if resp.Count == 0 {
		log.Infof("Initializing db with version %v", currentDbVersion)
		return s.firstTimeInit(ctxt, currentDbVersion)
	}

	version, err := strconv.Atoi(string(resp.Kvs[0].Value))
	if err != nil {
		return err
	}

	log.Infof("Current db version %v, latest version %v", version,
		currentDbVersion)

	if uint32(version) != currentDbVersion {
		return errDbVersionMismatch
	}

	return nil
}

// firstTimeInit stores all initial required key-value pairs throughout the
// store's initialization atomically.
func (s *EtcdStore) firstTimeInit(ctx context.Context, version uint32) error {
	versionKey := s.getKeyPrefix(versionPrefix)

	_, err := s.defaultSTM(ctx, func(stm conc.STM) error {
		stm.Put(versionKey, strconv.Itoa(int(version)))
		return nil
	})
	return err
}

// getAllValuesByPrefix reads multiple keys from the etcd database and returns
// their content as a map of byte slices, keyed by the storage key. Upon a
// critical failure, a daemon shutdown will be requested.
func (s *EtcdStore) getAllValuesByPrefix(mainCtx context.Context,
	prefix string) (map[string][]byte, error) {

	ctx, cancel := context.WithTimeout(mainCtx, etcdTimeout)
	defer cancel()

	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	s.requestShutdownOnCriticalErr(err)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]byte, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		result[string(kv.Key)] = kv.Value
	}
	return result, nil
}

// defaultSTM returns an STM transaction wrapper for the store's etcd client
// with the default isolation level. Upon a critical failure, a daemon shutdown
// will be requested.
func (s *EtcdStore) defaultSTM(ctx context.Context, apply func(conc.STM) error) (
	*clientv3.TxnResponse, error) {

	ctxt, cancel := context.WithTimeout(ctx, etcdTimeout)
	defer cancel()

	resp, err := conc.NewSTM(
		s.client, apply, conc.WithAbortContext(ctxt),
		conc.WithIsolation(stmDefaultIsolation),
	)
	s.requestShutdownOnCriticalErr(err)
	return resp, err
}

// requestShutdownOnCriticalErr requests a daemon shutdown if the error is
// deemed critical to daemon operation.
func (s *EtcdStore) requestShutdownOnCriticalErr(err error) {
	statusErr, isStatusErr := status.FromError(err)
	switch {
	// The context attached to the client request has timed out. This can be
	// due to not being able to reach the etcd server, or it taking too long
	// to respond. In either case, request a shutdown.
	case err == context.DeadlineExceeded:
		fallthrough

	// The etcd server's context timed out before the client's due to clock
	// skew, request a shutdown anyway.
	case isStatusErr && statusErr.Code() == codes.DeadlineExceeded:
		log.Critical("Timed out waiting for etcd response")
	}
}

// Close closes the etcd client and the SQL mirror, if any.
func (s *EtcdStore) Close() error {
	if s.sqlMirror != nil {
		if err := s.sqlMirror.Close(); err != nil {
			log.Errorf("Unable to close SQL mirror: %v", err)
		}
	}

	return s.client.Close()
}

// String returns the name of the backend.
func (s *EtcdStore) String() string {
	return fmt.Sprintf("etcd(%s)", s.networkID)
}
