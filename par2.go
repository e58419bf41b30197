package archivemeta

import "github.com/javi11/archivemeta/internal/par2"

// ParsePar2 scans a PAR2 byte stream and extracts file identities
// usable for obfuscated-filename resolution.
func ParsePar2(data []byte) (Par2Info, error) {
	info, err := par2.Parse(data)
	if err != nil {
		return Par2Info{}, err
	}
	return convertPar2Info(info), nil
}

func convertPar2Info(info par2.Info) Par2Info {
	out := Par2Info{
		RecoverySetID: info.RecoverySetID,
		Files:         make([]Par2FileDescription, len(info.Files)),
	}
	for i, f := range info.Files {
		out.Files[i] = Par2FileDescription{
			FileID:   f.FileID,
			FileHash: f.FileHash,
			Hash16k:  f.Hash16k,
			FileSize: f.FileSize,
			Filename: f.Filename,
		}
	}
	return out
}
