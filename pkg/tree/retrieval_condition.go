package tree

import (
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type retrievalCondition struct {
	top        int
	startAfter string
}

// parseRetrievalCondition parses conditions of the form
// ">:<top>:<startAfter>". Everything following the second colon is
// the name after which enumeration starts, meaning that it may itself
// contain colons.
func parseRetrievalCondition(condition string, maximumChildren int) (retrievalCondition, error) {
	remainder, ok := strings.CutPrefix(condition, ">:")
	if !ok {
		return retrievalCondition{}, status.Errorf(codes.InvalidArgument, "Retrieval condition %#v does not start with \">:\"", condition)
	}
	topString, startAfter, ok := strings.Cut(remainder, ":")
	if !ok {
		return retrievalCondition{}, status.Errorf(codes.InvalidArgument, "Retrieval condition %#v does not contain a name to start after", condition)
	}
	top, err := strconv.Atoi(topString)
	if err != nil {
		return retrievalCondition{}, status.Errorf(codes.InvalidArgument, "Retrieval condition %#v has an invalid number of children", condition)
	}
	if top < 0 || top > maximumChildren {
		return retrievalCondition{}, status.Errorf(codes.InvalidArgument, "Retrieval condition %#v requests %d children, while between 0 and %d children may be requested", condition, top, maximumChildren)
	}
	return retrievalCondition{
		top:        top,
		startAfter: startAfter,
	}, nil
}
