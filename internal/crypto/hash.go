package crypto

import (
	stdmd5 "crypto/md5"
	stdsha1 "crypto/sha1"
	stdsha256 "crypto/sha256"
)

func MD5(data []byte) [16]byte {
	return stdmd5.Sum(data)
}

func SHA1(data []byte) [20]byte {
	return stdsha1.Sum(data)
}

func SHA256(data []byte) [32]byte {
	return stdsha256.Sum256(data)
}
