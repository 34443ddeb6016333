package evm

// escrowABI covers every callable the orchestration core drives, matching the
// deployed marketplace escrow contract.
const escrowABI = `[
  {"name":"getListing","type":"function","stateMutability":"view",
   "inputs":[{"name":"listingId","type":"uint256"}],
   "outputs":[
     {"name":"owner","type":"address"},
     {"name":"rentPrice","type":"uint256"},
     {"name":"rentSecurity","type":"uint256"},
     {"name":"bookingPrice","type":"uint256"},
     {"name":"bookingSecurity","type":"uint256"},
     {"name":"active","type":"bool"}]},
  {"name":"getReservation","type":"function","stateMutability":"view",
   "inputs":[{"name":"bookingId","type":"uint256"}],
   "outputs":[
     {"name":"bookingId","type":"uint256"},
     {"name":"listingId","type":"uint256"},
     {"name":"originalPayer","type":"address"},
     {"name":"owner","type":"address"},
     {"name":"deposit","type":"uint256"},
     {"name":"price","type":"uint256"},
     {"name":"expiresAt","type":"uint256"},
     {"name":"state","type":"uint8"},
     {"name":"isRerent","type":"bool"},
     {"name":"renter","type":"address"},
     {"name":"totalPaid","type":"uint256"},
     {"name":"ownerShare","type":"uint256"},
     {"name":"brokerShare","type":"uint256"}]},
  {"name":"getReservationByListing","type":"function","stateMutability":"view",
   "inputs":[{"name":"listingId","type":"uint256"}],
   "outputs":[
     {"name":"bookingId","type":"uint256"},
     {"name":"listingId","type":"uint256"},
     {"name":"originalPayer","type":"address"},
     {"name":"owner","type":"address"},
     {"name":"deposit","type":"uint256"},
     {"name":"price","type":"uint256"},
     {"name":"expiresAt","type":"uint256"},
     {"name":"state","type":"uint8"},
     {"name":"isRerent","type":"bool"},
     {"name":"renter","type":"address"},
     {"name":"totalPaid","type":"uint256"},
     {"name":"ownerShare","type":"uint256"},
     {"name":"brokerShare","type":"uint256"}]},
  {"name":"isListingActive","type":"function","stateMutability":"view",
   "inputs":[{"name":"listingId","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"name":"prebook","type":"function","stateMutability":"payable",
   "inputs":[{"name":"listingId","type":"uint256"},{"name":"depositAmount","type":"uint256"}],
   "outputs":[{"name":"bookingId","type":"uint256"}]},
  {"name":"bookDirectly","type":"function","stateMutability":"payable",
   "inputs":[{"name":"listingId","type":"uint256"},{"name":"price","type":"uint256"}],
   "outputs":[{"name":"bookingId","type":"uint256"}]},
  {"name":"finalizeBooking","type":"function","stateMutability":"payable",
   "inputs":[{"name":"bookingId","type":"uint256"},{"name":"totalPaidAmount","type":"uint256"}],
   "outputs":[]},
  {"name":"rentListing","type":"function","stateMutability":"payable",
   "inputs":[
     {"name":"bookingId","type":"uint256"},
     {"name":"updateParams","type":"tuple","components":[
       {"name":"rentPrice","type":"uint256"},
       {"name":"rentSecurity","type":"uint256"},
       {"name":"bookingPrice","type":"uint256"},
       {"name":"bookingSecurity","type":"uint256"}]}],
   "outputs":[]},
  {"name":"cancelBooking","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"bookingId","type":"uint256"}],
   "outputs":[]},
  {"name":"unlockRoom","type":"function","stateMutability":"payable",
   "inputs":[{"name":"bookingId","type":"uint256"}],
   "outputs":[]},
  {"name":"raiseDispute","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"bookingId","type":"uint256"}],
   "outputs":[]},
  {"name":"submitEvidence","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"bookingId","type":"uint256"},{"name":"evidenceHash","type":"string"}],
   "outputs":[]}
]`

// erc20ABI is the slice of the token standard the approve flow needs.
const erc20ABI = `[
  {"name":"balanceOf","type":"function","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`
