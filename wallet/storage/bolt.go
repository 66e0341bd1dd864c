package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/crypto"
	bolt "go.etcd.io/bbolt"
)

const (
	keysetsBucket    = "keysets"
	proofsBucket     = "proofs"
	mintQuotesBucket = "mint_quotes"
	seedBucket       = "seed"

	mnemonicKey = "mnemonic"
	seedKey     = "seed"
)

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "wallet.db"), 0600,
		&bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("error opening wallet db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initWalletBuckets(); err != nil {
		return nil, fmt.Errorf("error setting up wallet db: %v", err)
	}

	return boltdb, nil
}

func (db *BoltDB) initWalletBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		buckets := []string{keysetsBucket, proofsBucket, mintQuotesBucket, seedBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

func (db *BoltDB) SaveMnemonicSeed(mnemonic string, seed []byte) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		seedb := tx.Bucket([]byte(seedBucket))
		if err := seedb.Put([]byte(seedKey), seed); err != nil {
			return err
		}
		return seedb.Put([]byte(mnemonicKey), []byte(mnemonic))
	})
}

func (db *BoltDB) GetSeed() []byte {
	var seed []byte
	db.bolt.View(func(tx *bolt.Tx) error {
		seedb := tx.Bucket([]byte(seedBucket))
		seed = seedb.Get([]byte(seedKey))
		return nil
	})
	return seed
}

func (db *BoltDB) GetMnemonic() string {
	var mnemonic string
	db.bolt.View(func(tx *bolt.Tx) error {
		seedb := tx.Bucket([]byte(seedBucket))
		mnemonic = string(seedb.Get([]byte(mnemonicKey)))
		return nil
	})
	return mnemonic
}

// SaveProofs stores the proofs keyed by their secret.
func (db *BoltDB) SaveProofs(proofs cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		for _, proof := range proofs {
			jsonProof, err := json.Marshal(proof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := proofsb.Put([]byte(proof.Secret), jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetProofs() cashu.Proofs {
	proofs := cashu.Proofs{}

	db.bolt.View(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		return proofsb.ForEach(func(k, v []byte) error {
			var proof cashu.Proof
			if err := json.Unmarshal(v, &proof); err != nil {
				return err
			}
			proofs = append(proofs, proof)
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) GetProofsByKeysetId(id string) cashu.Proofs {
	proofs := cashu.Proofs{}

	db.bolt.View(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		return proofsb.ForEach(func(k, v []byte) error {
			var proof cashu.Proof
			if err := json.Unmarshal(v, &proof); err != nil {
				return err
			}
			if proof.Id == id {
				proofs = append(proofs, proof)
			}
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) DeleteProof(secret string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		if proofsb.Get([]byte(secret)) == nil {
			return fmt.Errorf("proof does not exist")
		}
		return proofsb.Delete([]byte(secret))
	})
}

// SaveKeyset stores the keyset in a nested bucket per mint url.
func (db *BoltDB) SaveKeyset(keyset *crypto.WalletKeyset) error {
	jsonKeyset, err := json.Marshal(keyset)
	if err != nil {
		return fmt.Errorf("invalid keyset: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		mintBucket, err := keysetsb.CreateBucketIfNotExists([]byte(keyset.MintURL))
		if err != nil {
			return err
		}
		return mintBucket.Put([]byte(keyset.Id), jsonKeyset)
	})
}

func (db *BoltDB) GetKeysets() KeysetsMap {
	keysets := make(KeysetsMap)

	db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		return keysetsb.ForEachBucket(func(mintURL []byte) error {
			mintKeysets := make(map[string]crypto.WalletKeyset)
			err := keysetsb.Bucket(mintURL).ForEach(func(id, v []byte) error {
				var keyset crypto.WalletKeyset
				if err := json.Unmarshal(v, &keyset); err != nil {
					return err
				}
				mintKeysets[string(id)] = keyset
				return nil
			})
			if err != nil {
				return err
			}
			keysets[string(mintURL)] = mintKeysets
			return nil
		})
	})
	return keysets
}

func (db *BoltDB) GetKeyset(id string) *crypto.WalletKeyset {
	var keyset *crypto.WalletKeyset

	db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		return keysetsb.ForEachBucket(func(mintURL []byte) error {
			if v := keysetsb.Bucket(mintURL).Get([]byte(id)); v != nil {
				var k crypto.WalletKeyset
				if err := json.Unmarshal(v, &k); err != nil {
					return err
				}
				keyset = &k
			}
			return nil
		})
	})
	return keyset
}

// IncrementKeysetCounter moves the deterministic derivation counter
// for the keyset forward by num.
func (db *BoltDB) IncrementKeysetCounter(id string, num uint32) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		return keysetsb.ForEachBucket(func(mintURL []byte) error {
			mintBucket := keysetsb.Bucket(mintURL)
			v := mintBucket.Get([]byte(id))
			if v == nil {
				return nil
			}

			var keyset crypto.WalletKeyset
			if err := json.Unmarshal(v, &keyset); err != nil {
				return err
			}
			keyset.Counter += num
			jsonKeyset, err := json.Marshal(&keyset)
			if err != nil {
				return err
			}
			return mintBucket.Put([]byte(id), jsonKeyset)
		})
	})
}

func (db *BoltDB) GetKeysetCounter(id string) uint32 {
	keyset := db.GetKeyset(id)
	if keyset == nil {
		return 0
	}
	return keyset.Counter
}

func (db *BoltDB) SaveMintQuote(quote MintQuote) error {
	jsonQuote, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("invalid mint quote: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		quotesb := tx.Bucket([]byte(mintQuotesBucket))
		return quotesb.Put([]byte(quote.QuoteId), jsonQuote)
	})
}

func (db *BoltDB) GetMintQuotes() []MintQuote {
	var quotes []MintQuote

	db.bolt.View(func(tx *bolt.Tx) error {
		quotesb := tx.Bucket([]byte(mintQuotesBucket))
		return quotesb.ForEach(func(k, v []byte) error {
			var quote MintQuote
			if err := json.Unmarshal(v, &quote); err != nil {
				return err
			}
			quotes = append(quotes, quote)
			return nil
		})
	})
	return quotes
}

func (db *BoltDB) GetMintQuoteById(id string) *MintQuote {
	var quote *MintQuote

	db.bolt.View(func(tx *bolt.Tx) error {
		quotesb := tx.Bucket([]byte(mintQuotesBucket))
		if v := quotesb.Get([]byte(id)); v != nil {
			var q MintQuote
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}
			quote = &q
		}
		return nil
	})
	return quote
}
