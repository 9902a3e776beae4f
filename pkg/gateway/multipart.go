package gateway

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
)

// Attachment is a validated file ready to travel with a transaction.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// CreateTransaction submits a transaction. With no attachment the structured
// fields go as a JSON body. With an attachment the preferred path is a single
// multipart request carrying fields and file together; if the backend
// rejects multipart as unsupported (405/415), the client degrades to a
// two-step upload-then-reference submission with the same end result.
func (c *Client) CreateTransaction(ctx context.Context, req TransactionRequest, att *Attachment) (Transaction, error) {
	if att == nil {
		return c.createTransactionJSON(ctx, req)
	}

	tx, err := c.createTransactionMultipart(ctx, req, att)
	if err == nil {
		return tx, nil
	}
	if rej, ok := IsRejected(err); ok &&
		(rej.Status == http.StatusMethodNotAllowed || rej.Status == http.StatusUnsupportedMediaType) {
		c.logger.Info("multipart submission unsupported, degrading to upload-then-reference")
		up, upErr := c.UploadFile(ctx, att)
		if upErr != nil {
			return Transaction{}, upErr
		}
		req.ScreenshotURL = up.URL
		return c.createTransactionJSON(ctx, req)
	}
	return Transaction{}, err
}

func (c *Client) createTransactionJSON(ctx context.Context, req TransactionRequest) (Transaction, error) {
	var resp struct {
		Transaction Transaction `json:"transaction"`
	}
	if err := c.do(ctx, "create_transaction", http.MethodPost, "transactions", nil, req, &resp); err != nil {
		return Transaction{}, err
	}
	return resp.Transaction, nil
}

func (c *Client) createTransactionMultipart(ctx context.Context, req TransactionRequest, att *Attachment) (Transaction, error) {
	fields := map[string]string{
		"playerUuid":    req.PlayerUUID,
		"type":          req.Type,
		"amount":        req.Amount,
		"currency":      req.Currency,
		"bettingSiteId": strconv.Itoa(req.BettingSiteID),
		"playerSiteId":  req.PlayerSiteID,
	}
	if req.DepositBankID != 0 {
		fields["depositBankId"] = strconv.Itoa(req.DepositBankID)
	}
	if req.WithdrawalBankID != 0 {
		fields["withdrawalBankId"] = strconv.Itoa(req.WithdrawalBankID)
	}
	if req.WithdrawalAddress != "" {
		fields["withdrawalAddress"] = req.WithdrawalAddress
	}

	body, contentType, err := encodeMultipart(fields, "screenshot", att)
	if err != nil {
		return Transaction{}, fmt.Errorf("create_transaction: %w", err)
	}

	build := func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", contentType)
		return r, nil
	}

	var resp struct {
		Transaction Transaction `json:"transaction"`
	}
	if err := c.attempt(ctx, "create_transaction", build, &resp); err != nil {
		return Transaction{}, err
	}
	return resp.Transaction, nil
}

// UploadFile submits a standalone file upload and returns the backend's
// reference to it.
func (c *Client) UploadFile(ctx context.Context, att *Attachment) (Upload, error) {
	body, contentType, err := encodeMultipart(nil, "file", att)
	if err != nil {
		return Upload{}, fmt.Errorf("upload_file: %w", err)
	}

	build := func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", contentType)
		return r, nil
	}

	var resp Upload
	if err := c.attempt(ctx, "upload_file", build, &resp); err != nil {
		return Upload{}, err
	}
	return resp, nil
}

// encodeMultipart builds the full multipart body up front so retries can
// re-send it from a fresh reader.
func encodeMultipart(fields map[string]string, fileField string, att *Attachment) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, att.Name))
	hdr.Set("Content-Type", att.ContentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(att.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
