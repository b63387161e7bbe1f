package x402

import (
	"context"
	"io"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/util"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
)

// Uploader stores objects by paying for each one through Client.
type Uploader struct {
	client *Client
	signer transport.DataItemSigner
}

func NewUploader(client *Client, signer transport.DataItemSigner) *Uploader {
	return &Uploader{client: client, signer: signer}
}

func (u *Uploader) Upload(ctx context.Context, req *transport.Request, progress util.ProgressFunc) (*transport.UploadResult, error) {
	rc, err := req.Open()
	if err != nil {
		return nil, errors.Wrap(err, "open upload payload")
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, errors.Wrap(err, "read upload payload")
	}

	item, err := u.signer.SignDataItem(ctx, data, req.Tags)
	if err != nil {
		return nil, errors.FromSigner(ctx, err, "sign data item")
	}

	outcome, err := u.client.PayWithProgress(ctx, item.Bytes, progress)
	if err != nil {
		return nil, err
	}
	return transport.DecodeUploadResult(outcome.Body)
}
