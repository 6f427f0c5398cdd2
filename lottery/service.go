package lottery

/*
The service exposes the coordinator of a conode. Rounds, randomness clients,
token accounts and the lending reserve live in an additional bucket of the
conode database. Draws are served by the easyrand beacon of the same conode,
once Setup ran its DKG.
*/

import (
	"sync"

	"github.com/dedis/noloss/easyrand"
	"github.com/dedis/noloss/storage"
	"github.com/dedis/noloss/sys"
	"github.com/dedis/noloss/vault"
	"github.com/dedis/noloss/vrf"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var lotteryID onet.ServiceID

// ServiceName is the name of the lottery service
const ServiceName = "NoLossLottery"

const bucketName = "noloss"

func init() {
	var err error
	lotteryID, err = onet.RegisterNewService(ServiceName, newService)
	if err != nil {
		panic(err)
	}
}

type Service struct {
	*onet.ServiceProcessor
	cfg     Config
	store   *storage.Store
	ledger  *vault.Ledger
	reserve *vault.Reserve
	coord   *Coordinator

	sync.Mutex
	oracle *BeaconOracle
}

// Setup runs the DKG of the beacon and creates the lending reserve of the
// configured mint, if it does not exist yet.
func (s *Service) Setup(req *SetupRequest) (*SetupReply, error) {
	if req.Roster == nil || len(req.Roster.List) == 0 {
		return nil, xerrors.New("missing roster")
	}
	beacon := s.Service(easyrand.ServiceName).(*easyrand.EasyRand)
	dkgReply, err := beacon.InitDKG(&easyrand.InitDKGRequest{Roster: req.Roster, Timeout: s.cfg.DKGTimeout})
	if err != nil {
		return nil, xerrors.Errorf("beacon dkg: %v", err)
	}
	public, err := easyrand.PublicKey(dkgReply.Public)
	if err != nil {
		return nil, err
	}
	err = s.store.Update(func(tx *storage.Tx) error {
		if tx.Has(storage.KindReserve, s.reserve.Key) {
			return nil
		}
		_, err := vault.NewReserve(tx, s.ledger, s.reserve.Key, s.cfg.MintKey(),
			s.cfg.Reserve.RateBps, s.cfg.Reserve.Period, s.coord.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Lock()
	s.oracle = NewBeaconOracle(beacon, req.Roster, public, s.coord.DeliverRandomness)
	s.Unlock()
	s.coord.SetOracle(s.oracle)
	log.Lvl2(s.ServerIdentity(), "beacon ready for", len(req.Roster.List), "nodes")
	return &SetupReply{
		Public:  dkgReply.Public,
		Mint:    s.cfg.MintKey(),
		Reserve: s.reserve.Key,
		Queue:   s.cfg.QueueKey(),
	}, nil
}

// OpenAccount opens the token account of the owner and credits the faucet.
func (s *Service) OpenAccount(req *OpenAccountRequest) (*OpenAccountReply, error) {
	owner, err := verifySignature(req.Owner, req.Signature, signedMsg(msgOpenAccount))
	if err != nil {
		return nil, err
	}
	account := vault.TokenAccountKey(owner, s.cfg.MintKey())
	err = s.store.Update(func(tx *storage.Tx) error {
		if err := s.ledger.OpenAccount(tx, account, s.cfg.MintKey(), owner); err != nil {
			return err
		}
		return s.ledger.Mint(tx, account, s.cfg.Faucet)
	})
	if err != nil {
		return nil, err
	}
	return &OpenAccountReply{Account: account, Balance: s.cfg.Faucet}, nil
}

// InitRound creates the round and the oracle account it draws from.
func (s *Service) InitRound(req *InitRoundRequest) (*InitRoundReply, error) {
	authority, err := verifySignature(req.Authority, req.Signature, req.msg())
	if err != nil {
		return nil, err
	}
	roundKey := RoundKey(authority, req.Name)
	oracleKey := sys.DeriveKey("oracle", roundKey.Slice())
	r, err := s.coord.OpenRound(&vrf.OracleAccount{
		Key:       oracleKey,
		Authority: vrf.ClientKey(oracleKey, roundKey),
		Queue:     s.cfg.QueueKey(),
		Escrow:    sys.DeriveKey("escrow", oracleKey.Slice()),
	}, authority, req.Name, req.EntryFee, req.MaxParticipants)
	if err != nil {
		return nil, err
	}
	return &InitRoundReply{Round: r.Key, Client: r.Client, Oracle: oracleKey}, nil
}

func (s *Service) Enter(req *EnterRequest) (*EnterReply, error) {
	p, err := verifySignature(req.Participant, req.Signature, signedMsg(msgEnter, req.Round.Slice()))
	if err != nil {
		return nil, err
	}
	if err := s.coord.Enter(req.Round, p, vault.TokenAccountKey(p, s.cfg.MintKey())); err != nil {
		return nil, err
	}
	return &EnterReply{}, nil
}

func (s *Service) Leave(req *LeaveRequest) (*LeaveReply, error) {
	p, err := verifySignature(req.Participant, req.Signature, signedMsg(msgLeave, req.Round.Slice()))
	if err != nil {
		return nil, err
	}
	if err := s.coord.Leave(req.Round, p, vault.TokenAccountKey(p, s.cfg.MintKey())); err != nil {
		return nil, err
	}
	return &LeaveReply{}, nil
}

func (s *Service) Draw(req *DrawRequest) (*DrawReply, error) {
	authority, err := verifySignature(req.Authority, req.Signature, signedMsg(msgDraw, req.Round.Slice()))
	if err != nil {
		return nil, err
	}
	s.Lock()
	ready := s.oracle != nil
	s.Unlock()
	if !ready {
		return nil, xerrors.New("beacon not set up")
	}
	r, err := s.coord.Round(req.Round)
	if err != nil {
		return nil, err
	}
	oracleKey := r.Oracle
	err = s.coord.RequestRandomness(req.Round, authority, vrf.RequestParams{
		Oracle: oracleKey,
		Queue:  s.cfg.QueueKey(),
		Escrow: sys.DeriveKey("escrow", oracleKey.Slice()),
		Payer:  authority,
	})
	if err != nil {
		return nil, err
	}
	return &DrawReply{}, nil
}

func (s *Service) ChooseWinner(req *ChooseWinnerRequest) (*ChooseWinnerReply, error) {
	r, err := s.coord.Round(req.Round)
	if err != nil {
		return nil, err
	}
	winner, err := s.coord.ChooseWinner(req.Round, r.Client)
	if err != nil {
		return nil, err
	}
	return &ChooseWinnerReply{Winner: winner}, nil
}

func (s *Service) Settle(req *SettleRequest) (*SettleReply, error) {
	p, err := verifySignature(req.Participant, req.Signature, signedMsg(msgSettle, req.Round.Slice()))
	if err != nil {
		return nil, err
	}
	payout, err := s.coord.Settle(req.Round, p, vault.TokenAccountKey(p, s.cfg.MintKey()))
	if err != nil {
		return nil, err
	}
	return &SettleReply{Payout: payout}, nil
}

func (s *Service) Deploy(req *DeployRequest) (*DeployReply, error) {
	authority, err := verifySignature(req.Authority, req.Signature, req.msg())
	if err != nil {
		return nil, err
	}
	var amount uint64
	if req.Undeploy {
		amount, err = s.coord.Undeploy(req.Round, authority, req.Amount)
	} else {
		amount, err = s.coord.Deploy(req.Round, authority, req.Amount)
	}
	if err != nil {
		return nil, err
	}
	return &DeployReply{Amount: amount}, nil
}

func (s *Service) Close(req *CloseRequest) (*CloseReply, error) {
	authority, err := verifySignature(req.Authority, req.Signature, signedMsg(msgClose, req.Round.Slice()))
	if err != nil {
		return nil, err
	}
	if err := s.coord.Close(req.Round, authority); err != nil {
		return nil, err
	}
	return &CloseReply{}, nil
}

func (s *Service) GetRound(req *GetRoundRequest) (*GetRoundReply, error) {
	r, err := s.coord.Round(req.Round)
	if err != nil {
		return nil, err
	}
	c, err := s.coord.Client(r.Client)
	if err != nil {
		return nil, err
	}
	balance, err := s.coord.Balance(vault.NewAdapter(r.Key, s.ledger, s.reserve).Liquidity)
	if err != nil {
		return nil, err
	}
	return &GetRoundReply{Round: r, Client: c, Vault: balance}, nil
}

func (s *Service) GetBalance(req *GetBalanceRequest) (*GetBalanceReply, error) {
	b, err := s.coord.Balance(req.Account)
	if err != nil {
		return nil, err
	}
	return &GetBalanceReply{Balance: b}, nil
}

// verifySignature checks the schnorr signature of msg by pub and returns
// the identity of pub.
func verifySignature(pub kyber.Point, sig, msg []byte) (sys.Key, error) {
	if pub == nil {
		return sys.Key{}, xerrors.Errorf("missing public key: %w", sys.ErrInvalidSignature)
	}
	if err := schnorr.Verify(cothority.Suite, pub, msg, sig); err != nil {
		return sys.Key{}, xerrors.Errorf("%v: %w", err, sys.ErrInvalidSignature)
	}
	return sys.KeyFromPoint(pub)
}

func newService(c *onet.Context) (onet.Service, error) {
	cfg := currentConfig()
	db, bucket := c.GetAdditionalBucket([]byte(bucketName))
	store, err := storage.New(db, bucket)
	if err != nil {
		return nil, err
	}
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
		cfg:              cfg,
		store:            store,
		ledger:           &vault.Ledger{},
	}
	s.reserve = &vault.Reserve{Key: cfg.ReserveKey(), Ledger: s.ledger}
	s.coord = NewCoordinator(store, s.ledger, s.reserve, nil, vrf.LogNotifier{})
	if err := s.coord.restoreGauges(); err != nil {
		return nil, err
	}
	publish(s.coord.Metrics())
	err = s.RegisterHandlers(s.Setup, s.OpenAccount, s.InitRound, s.Enter,
		s.Leave, s.Draw, s.ChooseWinner, s.Settle, s.Deploy, s.Close,
		s.GetRound, s.GetBalance)
	if err != nil {
		log.Errorf("couldn't register handlers: %v", err)
		return nil, err
	}
	return s, nil
}
