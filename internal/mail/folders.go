package mail

import (
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/utf7"

	"github.com/vkruglov/replyharvest/pkg/models"
)

// listLocked enumerates all folders. Caller must hold the mutex.
func (s *Session) listLocked() ([]models.Folder, error) {
	if s.state == StateDisconnected {
		return nil, errNotConnected
	}

	ch := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- s.conn.List("", "*", ch)
	}()

	var folders []models.Folder
	for mb := range ch {
		folders = append(folders, models.Folder{
			Raw:  mb.Name,
			Name: DecodeFolderName(mb.Name),
		})
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return folders, nil
}

// DecodeFolderName decodes a modified-UTF-7 IMAP folder name. Names that
// fail to decode are returned as-is.
func DecodeFolderName(raw string) string {
	decoded, err := utf7.Encoding.NewDecoder().String(raw)
	if err != nil {
		return raw
	}
	return decoded
}
